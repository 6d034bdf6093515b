package decl

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/GoCodeAlone/realm/moniker"
)

// Validation errors
var (
	ErrInvalidKind          = errors.New("invalid capability kind")
	ErrInvalidName          = errors.New("invalid name")
	ErrDuplicateChild       = errors.New("duplicate child or collection name")
	ErrDuplicateCapability  = errors.New("duplicate capability declaration")
	ErrMissingRights        = errors.New("directory capability must declare rights")
	ErrUnknownChild         = errors.New("reference to undeclared child")
	ErrUnknownCollection    = errors.New("reference to undeclared collection")
	ErrInvalidSourceRef     = errors.New("invalid source reference")
	ErrInvalidTargetRef     = errors.New("invalid target reference")
	ErrOfferToSelf          = errors.New("offer source and target are the same child")
	ErrCircularOffer        = errors.New("circular offer dependency detected")
	ErrMissingProgramRunner = errors.New("program must name a runner")
)

// Validate checks d for declaration-time errors, including strong offer
// cycles between children. All problems found are joined into the result.
func Validate(d *ComponentDecl) error {
	if d == nil {
		return nil
	}
	var errs []error
	add := func(err error) { errs = append(errs, err) }

	if d.Program != nil && d.Program.Runner == "" {
		add(ErrMissingProgramRunner)
	}

	names := make(map[string]bool)
	for _, c := range d.Children {
		if err := moniker.ValidateName(c.Name); err != nil {
			add(fmt.Errorf("child %q: %w: %w", c.Name, ErrInvalidName, err))
		}
		if names[c.Name] {
			add(fmt.Errorf("%w: %s", ErrDuplicateChild, c.Name))
		}
		names[c.Name] = true
	}
	for _, c := range d.Collections {
		if err := moniker.ValidateName(c.Name); err != nil {
			add(fmt.Errorf("collection %q: %w: %w", c.Name, ErrInvalidName, err))
		}
		if names[c.Name] {
			add(fmt.Errorf("%w: %s", ErrDuplicateChild, c.Name))
		}
		names[c.Name] = true
	}

	type capKey struct {
		kind CapabilityKind
		name string
	}
	caps := make(map[capKey]bool)
	for _, c := range d.Capabilities {
		if !c.Kind.Valid() {
			add(fmt.Errorf("capability %q: %w: %q", c.Name, ErrInvalidKind, c.Kind))
		}
		if c.Name == "" {
			add(fmt.Errorf("capability: %w: empty", ErrInvalidName))
		}
		k := capKey{c.Kind, c.Name}
		if caps[k] {
			add(fmt.Errorf("%w: %s %s", ErrDuplicateCapability, c.Kind, c.Name))
		}
		caps[k] = true
		if c.Kind == Directory && c.Rights == nil {
			add(fmt.Errorf("capability %q: %w", c.Name, ErrMissingRights))
		}
	}

	checkRef := func(what string, r Ref) {
		switch r.Kind {
		case RefChild:
			if _, ok := d.FindChild(r.Name); !ok {
				add(fmt.Errorf("%s: %w: %s", what, ErrUnknownChild, r.Name))
			}
		case RefCollection:
			if _, ok := d.FindCollection(r.Name); !ok {
				add(fmt.Errorf("%s: %w: %s", what, ErrUnknownCollection, r.Name))
			}
		}
	}

	for _, u := range d.Uses {
		what := fmt.Sprintf("use %s", u.SourceName)
		if !u.Kind.Valid() {
			add(fmt.Errorf("%s: %w: %q", what, ErrInvalidKind, u.Kind))
		}
		switch u.Source.Kind {
		case RefNone, RefParent, RefFramework:
		default:
			add(fmt.Errorf("%s: %w: %s", what, ErrInvalidSourceRef, u.Source))
		}
	}

	for _, o := range d.Offers {
		what := fmt.Sprintf("offer %s", o.SourceName)
		if !o.Kind.Valid() {
			add(fmt.Errorf("%s: %w: %q", what, ErrInvalidKind, o.Kind))
		}
		switch o.Source.Kind {
		case RefSelf, RefParent, RefFramework, RefChild, RefCollection:
			checkRef(what, o.Source)
		default:
			add(fmt.Errorf("%s: %w: %s", what, ErrInvalidSourceRef, o.Source))
		}
		switch o.Target.Kind {
		case RefChild, RefCollection:
			checkRef(what, o.Target)
		default:
			add(fmt.Errorf("%s: %w: %s", what, ErrInvalidTargetRef, o.Target))
		}
		if o.Source.Kind == o.Target.Kind && o.Source.Kind != RefNone && o.Source.Name != "" && o.Source.Name == o.Target.Name {
			add(fmt.Errorf("%s: %w: %s", what, ErrOfferToSelf, o.Target))
		}
	}

	for _, e := range d.Exposes {
		what := fmt.Sprintf("expose %s", e.SourceName)
		if !e.Kind.Valid() {
			add(fmt.Errorf("%s: %w: %q", what, ErrInvalidKind, e.Kind))
		}
		switch e.Source.Kind {
		case RefSelf, RefFramework, RefChild, RefCollection:
			checkRef(what, e.Source)
		default:
			add(fmt.Errorf("%s: %w: %s", what, ErrInvalidSourceRef, e.Source))
		}
		switch e.Target.Kind {
		case RefNone, RefParent, RefFramework:
		default:
			add(fmt.Errorf("%s: %w: %s", what, ErrInvalidTargetRef, e.Target))
		}
	}

	if err := checkOfferCycles(d); err != nil {
		add(err)
	}
	return errors.Join(errs...)
}

// checkOfferCycles rejects strong offers between children that form a
// cycle. Cycles are a declaration-time error so route walks never loop.
func checkOfferCycles(d *ComponentDecl) error {
	graph := make(map[string][]string)
	for _, o := range d.Offers {
		if o.Dependency == DependencyWeak {
			continue
		}
		if o.Source.Kind != RefChild && o.Source.Kind != RefCollection {
			continue
		}
		if o.Target.Kind != RefChild && o.Target.Kind != RefCollection {
			continue
		}
		src, dst := o.Source.Name, o.Target.Name
		if !slices.Contains(graph[src], dst) {
			graph[src] = append(graph[src], dst)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(string) error
	visit = func(node string) error {
		if onStack[node] {
			start := slices.Index(stack, node)
			cycle := append(append([]string(nil), stack[start:]...), node)
			return fmt.Errorf("%w: %s", ErrCircularOffer, strings.Join(cycle, " -> "))
		}
		if visited[node] {
			return nil
		}
		onStack[node] = true
		stack = append(stack, node)
		for _, next := range graph[node] {
			if err := visit(next); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		onStack[node] = false
		visited[node] = true
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}
