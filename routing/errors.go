package routing

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/realm/moniker"
)

// ErrorKind classifies a routing failure.
type ErrorKind int

const (
	OfferDeclNotFound ErrorKind = iota + 1
	DuplicateOfferDecl
	ExposeDeclNotFound
	DuplicateExposeDecl
	CapabilityDeclNotFound
	DuplicateCapabilityDecl
	InvalidDirectoryRights
	InvalidSourceType
	Internal
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrOfferDeclNotFound       = errors.New("offer declaration not found")
	ErrDuplicateOfferDecl      = errors.New("multiple matching offer declarations")
	ErrExposeDeclNotFound      = errors.New("expose declaration not found")
	ErrDuplicateExposeDecl     = errors.New("multiple matching expose declarations")
	ErrCapabilityDeclNotFound  = errors.New("capability declaration not found")
	ErrDuplicateCapabilityDecl = errors.New("multiple matching capability declarations")
	ErrInvalidDirectoryRights  = errors.New("invalid directory rights")
	ErrInvalidSourceType       = errors.New("invalid source type")
	ErrInternal                = errors.New("internal routing error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case OfferDeclNotFound:
		return ErrOfferDeclNotFound
	case DuplicateOfferDecl:
		return ErrDuplicateOfferDecl
	case ExposeDeclNotFound:
		return ErrExposeDeclNotFound
	case DuplicateExposeDecl:
		return ErrDuplicateExposeDecl
	case CapabilityDeclNotFound:
		return ErrCapabilityDeclNotFound
	case DuplicateCapabilityDecl:
		return ErrDuplicateCapabilityDecl
	case InvalidDirectoryRights:
		return ErrInvalidDirectoryRights
	case InvalidSourceType:
		return ErrInvalidSourceType
	}
	return ErrInternal
}

func (k ErrorKind) String() string {
	switch k {
	case OfferDeclNotFound:
		return "OfferDeclNotFound"
	case DuplicateOfferDecl:
		return "DuplicateOfferDecl"
	case ExposeDeclNotFound:
		return "ExposeDeclNotFound"
	case DuplicateExposeDecl:
		return "DuplicateExposeDecl"
	case CapabilityDeclNotFound:
		return "CapabilityDeclNotFound"
	case DuplicateCapabilityDecl:
		return "DuplicateCapabilityDecl"
	case InvalidDirectoryRights:
		return "InvalidDirectoryRights"
	case InvalidSourceType:
		return "InvalidSourceType"
	}
	return "Internal"
}

// Error is a capability routing failure at Moniker for the capability
// named Capability.
type Error struct {
	Kind       ErrorKind
	Moniker    moniker.Moniker
	Capability string
	Detail     string
}

func newError(kind ErrorKind, m moniker.Moniker, capability, detail string) *Error {
	return &Error{Kind: kind, Moniker: m, Capability: capability, Detail: detail}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: %q at %s", e.Kind.sentinel(), e.Capability, e.Moniker)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the sentinel for the error's kind.
func (e *Error) Unwrap() error {
	return e.Kind.sentinel()
}
