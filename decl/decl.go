// Package decl defines the immutable, already-parsed component declaration
// that resolvers hand to the component model.
//
// A ComponentDecl lists what a component uses, offers to its children,
// exposes to its parent and declares itself, plus its static children and
// collections of dynamic children. Declarations are shared read-only by
// every route walk once attached to an instance and must not be modified.
package decl

import "slices"

// CapabilityKind is the type of a capability.
type CapabilityKind string

const (
	Protocol  CapabilityKind = "protocol"
	Directory CapabilityKind = "directory"
	Service   CapabilityKind = "service"
	Storage   CapabilityKind = "storage"
	Runner    CapabilityKind = "runner"
	Resolver  CapabilityKind = "resolver"
)

// Valid reports whether k is a known capability kind.
func (k CapabilityKind) Valid() bool {
	switch k {
	case Protocol, Directory, Service, Storage, Runner, Resolver:
		return true
	}
	return false
}

// StartupMode controls whether a static child is started with its parent.
type StartupMode string

const (
	StartupLazy  StartupMode = "lazy"
	StartupEager StartupMode = "eager"
)

// Durability of the instances in a collection.
type Durability string

const (
	DurabilityTransient Durability = "transient"
	DurabilitySingleRun Durability = "single_run"
)

// DependencyType marks whether an offer orders shutdown between siblings.
// Only strong offers take part in offer cycle detection.
type DependencyType string

const (
	DependencyStrong DependencyType = "strong"
	DependencyWeak   DependencyType = "weak"
)

// ProgramDecl describes how to execute a component.
type ProgramDecl struct {
	Runner string         `yaml:"runner" toml:"runner" json:"runner"`
	Info   map[string]any `yaml:"info,omitempty" toml:"info,omitempty" json:"info,omitempty"`
}

// UseDecl declares a capability the component consumes.
type UseDecl struct {
	Kind       CapabilityKind `yaml:"kind" toml:"kind" json:"kind"`
	Source     Ref            `yaml:"from,omitempty" toml:"from,omitempty" json:"from,omitempty"`
	SourceName string         `yaml:"name" toml:"name" json:"name"`
	TargetPath string         `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
	Rights     *Rights        `yaml:"rights,omitempty" toml:"rights,omitempty" json:"rights,omitempty"`
	Subdir     string         `yaml:"subdir,omitempty" toml:"subdir,omitempty" json:"subdir,omitempty"`
}

// Path returns the namespace path the capability is installed at.
func (u UseDecl) Path() string {
	if u.TargetPath != "" {
		return u.TargetPath
	}
	if u.Kind == Directory || u.Kind == Storage {
		return "/" + u.SourceName
	}
	return "/svc/" + u.SourceName
}

// OfferDecl routes a capability from Source to the child or collection Target.
type OfferDecl struct {
	Kind       CapabilityKind `yaml:"kind" toml:"kind" json:"kind"`
	Source     Ref            `yaml:"from" toml:"from" json:"from"`
	SourceName string         `yaml:"name" toml:"name" json:"name"`
	Target     Ref            `yaml:"to" toml:"to" json:"to"`
	TargetName string         `yaml:"as,omitempty" toml:"as,omitempty" json:"as,omitempty"`
	Rights     *Rights        `yaml:"rights,omitempty" toml:"rights,omitempty" json:"rights,omitempty"`
	Subdir     string         `yaml:"subdir,omitempty" toml:"subdir,omitempty" json:"subdir,omitempty"`
	Dependency DependencyType `yaml:"dependency,omitempty" toml:"dependency,omitempty" json:"dependency,omitempty"`
}

// Name returns the name the target sees the capability under.
func (o OfferDecl) Name() string {
	if o.TargetName != "" {
		return o.TargetName
	}
	return o.SourceName
}

// ExposeDecl makes a capability visible to the component's parent.
type ExposeDecl struct {
	Kind       CapabilityKind `yaml:"kind" toml:"kind" json:"kind"`
	Source     Ref            `yaml:"from" toml:"from" json:"from"`
	SourceName string         `yaml:"name" toml:"name" json:"name"`
	Target     Ref            `yaml:"to,omitempty" toml:"to,omitempty" json:"to,omitempty"`
	TargetName string         `yaml:"as,omitempty" toml:"as,omitempty" json:"as,omitempty"`
	Rights     *Rights        `yaml:"rights,omitempty" toml:"rights,omitempty" json:"rights,omitempty"`
	Subdir     string         `yaml:"subdir,omitempty" toml:"subdir,omitempty" json:"subdir,omitempty"`
}

// Name returns the name the parent sees the capability under.
func (e ExposeDecl) Name() string {
	if e.TargetName != "" {
		return e.TargetName
	}
	return e.SourceName
}

// ToParent reports whether the expose targets the parent. An unset target
// means the parent.
func (e ExposeDecl) ToParent() bool {
	return e.Target.Kind == RefNone || e.Target.Kind == RefParent
}

// CapabilityDecl declares a capability the component itself provides.
type CapabilityDecl struct {
	Kind   CapabilityKind `yaml:"kind" toml:"kind" json:"kind"`
	Name   string         `yaml:"name" toml:"name" json:"name"`
	Path   string         `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
	Rights *Rights        `yaml:"rights,omitempty" toml:"rights,omitempty" json:"rights,omitempty"`
}

// ChildDecl declares a static child.
type ChildDecl struct {
	Name    string      `yaml:"name" toml:"name" json:"name"`
	URL     string      `yaml:"url" toml:"url" json:"url"`
	Startup StartupMode `yaml:"startup,omitempty" toml:"startup,omitempty" json:"startup,omitempty"`
}

// CollectionDecl declares a collection of dynamic children.
type CollectionDecl struct {
	Name       string     `yaml:"name" toml:"name" json:"name"`
	Durability Durability `yaml:"durability,omitempty" toml:"durability,omitempty" json:"durability,omitempty"`
}

// ComponentDecl is the parsed manifest of a component.
type ComponentDecl struct {
	Program      *ProgramDecl     `yaml:"program,omitempty" toml:"program,omitempty" json:"program,omitempty"`
	Uses         []UseDecl        `yaml:"use,omitempty" toml:"use,omitempty" json:"use,omitempty"`
	Offers       []OfferDecl      `yaml:"offer,omitempty" toml:"offer,omitempty" json:"offer,omitempty"`
	Exposes      []ExposeDecl     `yaml:"expose,omitempty" toml:"expose,omitempty" json:"expose,omitempty"`
	Capabilities []CapabilityDecl `yaml:"capabilities,omitempty" toml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Children     []ChildDecl      `yaml:"children,omitempty" toml:"children,omitempty" json:"children,omitempty"`
	Collections  []CollectionDecl `yaml:"collections,omitempty" toml:"collections,omitempty" json:"collections,omitempty"`
}

// Clone returns a copy of d whose slices can be modified without touching d.
// Program and rights are shared.
func (d *ComponentDecl) Clone() *ComponentDecl {
	c := *d
	c.Uses = slices.Clone(d.Uses)
	c.Offers = slices.Clone(d.Offers)
	c.Exposes = slices.Clone(d.Exposes)
	c.Capabilities = slices.Clone(d.Capabilities)
	c.Children = slices.Clone(d.Children)
	c.Collections = slices.Clone(d.Collections)
	return &c
}

// FindChild returns the static child named name.
func (d *ComponentDecl) FindChild(name string) (ChildDecl, bool) {
	for _, c := range d.Children {
		if c.Name == name {
			return c, true
		}
	}
	return ChildDecl{}, false
}

// FindCollection returns the collection named name.
func (d *ComponentDecl) FindCollection(name string) (CollectionDecl, bool) {
	for _, c := range d.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return CollectionDecl{}, false
}

// FindUse returns the first use of the capability named name.
func (d *ComponentDecl) FindUse(name string) (UseDecl, bool) {
	for _, u := range d.Uses {
		if u.SourceName == name {
			return u, true
		}
	}
	return UseDecl{}, false
}

// Normalize rewrites child references that name a collection into
// collection references and fills in defaulted fields. It modifies d and
// must only be called before d is shared.
func (d *ComponentDecl) Normalize() {
	isCollection := func(r Ref) bool {
		if r.Kind != RefChild {
			return false
		}
		_, ok := d.FindCollection(r.Name)
		return ok
	}
	for i := range d.Uses {
		if d.Uses[i].Source.Kind == RefNone {
			d.Uses[i].Source = ParentRef()
		}
	}
	for i := range d.Offers {
		o := &d.Offers[i]
		if isCollection(o.Target) {
			o.Target = CollectionRef(o.Target.Name)
		}
		if isCollection(o.Source) {
			o.Source = CollectionRef(o.Source.Name)
		}
		if o.Dependency == "" {
			o.Dependency = DependencyStrong
		}
	}
	for i := range d.Exposes {
		e := &d.Exposes[i]
		if e.Target.Kind == RefNone {
			e.Target = ParentRef()
		}
		if isCollection(e.Source) {
			e.Source = CollectionRef(e.Source.Name)
		}
	}
	for i := range d.Children {
		if d.Children[i].Startup == "" {
			d.Children[i].Startup = StartupLazy
		}
	}
	for i := range d.Collections {
		if d.Collections[i].Durability == "" {
			d.Collections[i].Durability = DurabilityTransient
		}
	}
}
