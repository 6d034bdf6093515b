package realm

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/realm/moniker"
)

// Model errors
var (
	// Component tree errors
	ErrInstanceNotFound      = errors.New("instance not found")
	ErrInstanceDestroying    = errors.New("instance is being destroyed")
	ErrActionCancelled       = errors.New("action cancelled by destroy")
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrInstanceAlreadyExists = errors.New("instance already exists")
	ErrUseNotFound           = errors.New("use declaration not found")
	ErrRootURLRequired       = errors.New("root component url is required")

	// Configuration errors
	ErrInvalidConfig           = errors.New("invalid config")
	ErrConfigFeed              = errors.New("config feeder error")
	ErrUnsupportedConfigFormat = errors.New("unsupported config file format")

	// Registry errors
	ErrSchemeAlreadyRegistered = errors.New("resolver already registered for scheme")
	ErrRunnerAlreadyRegistered = errors.New("runner already registered")
	ErrNilResolver             = errors.New("resolver cannot be nil")
	ErrNilRunner               = errors.New("runner cannot be nil")

	// Resolver errors, matched through ResolverError
	ErrSchemeNotRegistered = errors.New("no resolver registered for scheme")
	ErrManifestNotFound    = errors.New("manifest not found")
	ErrManifestInvalid     = errors.New("manifest invalid")
	ErrResolverFailed      = errors.New("resolver failed")

	// Runner errors, matched through RunnerError
	ErrInvalidArgs           = errors.New("invalid runner arguments")
	ErrComponentNotAvailable = errors.New("component not available")
	ErrRunnerNotRegistered   = errors.New("runner not registered")
)

// ModelError is returned by tree and lifecycle operations. Err is a model
// sentinel, a *ResolverError, a *RunnerError, a *routing.Error or a hook
// error.
type ModelError struct {
	Op      string
	Moniker moniker.Moniker
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Moniker, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

func modelError(op string, m moniker.Moniker, err error) error {
	var me *ModelError
	if errors.As(err, &me) && me.Op == op && me.Moniker.Equal(m) {
		return err
	}
	return &ModelError{Op: op, Moniker: m, Err: err}
}

// ResolverErrorKind classifies a ResolverError.
type ResolverErrorKind int

const (
	SchemeNotRegistered ResolverErrorKind = iota + 1
	ManifestNotFound
	ManifestInvalid
	ResolverFailed
)

func (k ResolverErrorKind) sentinel() error {
	switch k {
	case SchemeNotRegistered:
		return ErrSchemeNotRegistered
	case ManifestNotFound:
		return ErrManifestNotFound
	case ManifestInvalid:
		return ErrManifestInvalid
	}
	return ErrResolverFailed
}

// ResolverError reports a failure to resolve URL. Resolve failures are
// retryable: the instance stays Discovered.
type ResolverError struct {
	URL  string
	Kind ResolverErrorKind
	Err  error
}

// NewResolverError returns a ResolverError of kind for url.
func NewResolverError(kind ResolverErrorKind, url string, err error) *ResolverError {
	return &ResolverError{URL: url, Kind: kind, Err: err}
}

func (e *ResolverError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %q: %v", e.URL, e.Kind.sentinel())
	}
	return fmt.Sprintf("resolve %q: %v: %v", e.URL, e.Kind.sentinel(), e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *ResolverError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// RunnerErrorKind classifies a RunnerError.
type RunnerErrorKind int

const (
	InvalidArgs RunnerErrorKind = iota + 1
	ComponentNotAvailable
)

func (k RunnerErrorKind) sentinel() error {
	if k == InvalidArgs {
		return ErrInvalidArgs
	}
	return ErrComponentNotAvailable
}

// RunnerError reports a failure to start a program.
type RunnerError struct {
	Runner string
	Kind   RunnerErrorKind
	Err    error
}

// NewRunnerError returns a RunnerError of kind for runner.
func NewRunnerError(kind RunnerErrorKind, runner string, err error) *RunnerError {
	return &RunnerError{Runner: runner, Kind: kind, Err: err}
}

func (e *RunnerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("runner %q: %v", e.Runner, e.Kind.sentinel())
	}
	return fmt.Sprintf("runner %q: %v: %v", e.Runner, e.Kind.sentinel(), e.Err)
}

func (e *RunnerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
