package decl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRef is returned when a reference cannot be parsed.
var ErrInvalidRef = errors.New("invalid reference")

// RefKind identifies what a Ref points at.
type RefKind int

const (
	RefNone RefKind = iota
	RefSelf
	RefParent
	RefFramework
	RefChild
	RefCollection
)

func (k RefKind) String() string {
	switch k {
	case RefSelf:
		return "self"
	case RefParent:
		return "parent"
	case RefFramework:
		return "framework"
	case RefChild:
		return "child"
	case RefCollection:
		return "collection"
	}
	return "none"
}

// Ref is the source or target of a routing declaration.
type Ref struct {
	Kind RefKind
	Name string
}

// SelfRef refers to the declaring component.
func SelfRef() Ref { return Ref{Kind: RefSelf} }

// ParentRef refers to the declaring component's parent.
func ParentRef() Ref { return Ref{Kind: RefParent} }

// FrameworkRef refers to the component framework.
func FrameworkRef() Ref { return Ref{Kind: RefFramework} }

// ChildRef refers to the static child name.
func ChildRef(name string) Ref { return Ref{Kind: RefChild, Name: name} }

// CollectionRef refers to the collection name.
func CollectionRef(name string) Ref { return Ref{Kind: RefCollection, Name: name} }

// ParseRef parses "self", "parent", "framework", "#name" or "collection:name".
// "#name" always yields a child reference; ComponentDecl.Normalize turns it
// into a collection reference when name is a declared collection.
func ParseRef(s string) (Ref, error) {
	switch {
	case s == "":
		return Ref{}, nil
	case s == "self":
		return SelfRef(), nil
	case s == "parent":
		return ParentRef(), nil
	case s == "framework":
		return FrameworkRef(), nil
	case strings.HasPrefix(s, "#") && len(s) > 1:
		return ChildRef(s[1:]), nil
	case strings.HasPrefix(s, "collection:") && len(s) > len("collection:"):
		return CollectionRef(strings.TrimPrefix(s, "collection:")), nil
	}
	return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
}

func (r Ref) String() string {
	switch r.Kind {
	case RefSelf, RefParent, RefFramework:
		return r.Kind.String()
	case RefChild:
		return "#" + r.Name
	case RefCollection:
		return "collection:" + r.Name
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Ref) UnmarshalText(text []byte) error {
	parsed, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
