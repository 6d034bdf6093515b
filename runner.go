package realm

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
	"github.com/GoCodeAlone/realm/routing"
)

// ExitStatus is reported through StartInfo.OnExit when a program exits on
// its own.
type ExitStatus = hooks.ExitStatus

// Controller manages a running program.
type Controller interface {
	// Stop asks the program to exit and waits for it.
	Stop(ctx context.Context) error
	// Kill terminates the program immediately.
	Kill(ctx context.Context) error
}

// StartInfo is handed to a Runner when a component starts.
type StartInfo struct {
	Moniker     moniker.Moniker
	ResolvedURL string
	Program     *decl.ProgramDecl
	Package     fs.FS
	Namespace   *Namespace
	Outgoing    *Directory
	// OnExit must be called at most once, when the program exits without
	// being asked to. It never blocks.
	OnExit func(status ExitStatus)
}

// Runner executes component programs.
type Runner interface {
	Start(ctx context.Context, info *StartInfo) (Controller, error)
}

// RunnerRegistry maps runner names to runners.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRunnerRegistry returns an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{runners: make(map[string]Runner)}
}

// Register installs r under name.
func (r *RunnerRegistry) Register(name string, runner Runner) error {
	if runner == nil {
		return fmt.Errorf("%w: %s", ErrNilRunner, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("%w: %s", ErrRunnerAlreadyRegistered, name)
	}
	r.runners[name] = runner
	return nil
}

// Get returns the runner named name or a ComponentNotAvailable RunnerError.
func (r *RunnerRegistry) Get(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[name]
	if !ok {
		return nil, NewRunnerError(ComponentNotAvailable, name, ErrRunnerNotRegistered)
	}
	return runner, nil
}

// Names lists the registered runners in sorted order.
func (r *RunnerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runners))
	for n := range r.runners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NamespaceEntry is one capability in a component's incoming namespace.
// Nothing is routed until Open is called.
type NamespaceEntry struct {
	Path string
	Use  decl.UseDecl
	open func(ctx context.Context) (*routing.Route, error)
}

// Open routes the entry's use to its source.
func (e *NamespaceEntry) Open(ctx context.Context) (*routing.Route, error) {
	return e.open(ctx)
}

// Namespace is the set of capabilities a component uses, keyed by path.
type Namespace struct {
	entries []*NamespaceEntry
}

// Entries returns the entries in declaration order.
func (n *Namespace) Entries() []*NamespaceEntry {
	out := make([]*NamespaceEntry, len(n.entries))
	copy(out, n.entries)
	return out
}

// Lookup returns the entry installed at path.
func (n *Namespace) Lookup(path string) (*NamespaceEntry, bool) {
	for _, e := range n.entries {
		if e.Path == path {
			return e, true
		}
	}
	return nil, false
}

// Open routes the entry at path.
func (n *Namespace) Open(ctx context.Context, path string) (*routing.Route, error) {
	e, ok := n.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: no namespace entry at %s", ErrUseNotFound, path)
	}
	return e.Open(ctx)
}

// Directory is the outgoing directory of an execution, where a program
// publishes the capabilities it serves.
type Directory struct {
	ID string

	mu      sync.RWMutex
	entries map[string]any
}

func newDirectory(id string) *Directory {
	return &Directory{ID: id, entries: make(map[string]any)}
}

// Publish serves v at path, replacing any previous entry.
func (d *Directory) Publish(path string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[path] = v
}

// Lookup returns what is served at path.
func (d *Directory) Lookup(path string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.entries[path]
	return v, ok
}

// Paths lists the published paths in sorted order.
func (d *Directory) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, 0, len(d.entries))
	for p := range d.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
