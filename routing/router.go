// Package routing finds the provider of a capability used by a component.
//
// A route walk starts at the using component, climbs through the offers of
// its ancestors, then descends through the exposes of their children until
// it reaches the component that declares the capability, the framework, or
// the built-in capabilities of the root's parent. The walk only reads
// declarations; it never mutates the component tree.
package routing

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
)

// hopSlack is added to the depth-derived hop bound to cover the use and
// terminal hops.
const hopSlack = 2

// Node is a live instance as seen by the router.
type Node struct {
	// Moniker is the instance's full moniker, instance ids included.
	Moniker moniker.Moniker
	Decl    *decl.ComponentDecl
}

// Graph gives the router read access to the component tree.
type Graph interface {
	// Declaration returns the live instance matching m, whose instance ids
	// may be zero. Implementations may resolve the instance on demand.
	Declaration(ctx context.Context, m moniker.Moniker) (Node, error)
	// Depth returns the depth of the deepest live instance.
	Depth() int
}

// Dispatcher receives CapabilityRouted events.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *hooks.Event) error
}

// Logger has the same method set as realm.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// Builtin is a capability provided outside any component declaration.
type Builtin struct {
	Kind   decl.CapabilityKind `yaml:"kind" toml:"kind" json:"kind"`
	Name   string              `yaml:"name" toml:"name" json:"name"`
	Rights *decl.Rights        `yaml:"rights,omitempty" toml:"rights,omitempty" json:"rights,omitempty"`
}

// Options configures a Router.
type Options struct {
	// Framework lists capabilities every component can use from "framework".
	Framework []Builtin
	// RootParent lists capabilities offered to the root component by its parent.
	RootParent []Builtin
	Logger     Logger
}

// Router routes capability uses.
type Router struct {
	graph      Graph
	dispatcher Dispatcher
	logger     Logger
	framework  []Builtin
	rootParent []Builtin
}

// New returns a Router reading graph. dispatcher may be nil.
func New(graph Graph, dispatcher Dispatcher, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Router{
		graph:      graph,
		dispatcher: dispatcher,
		logger:     logger,
		framework:  opts.Framework,
		rootParent: opts.RootParent,
	}
}

// RouteUse routes use, declared by the component at target, to its source.
// The outcome is dispatched as a CapabilityRouted event; a hook error turns
// a successful route into a failure.
func (r *Router) RouteUse(ctx context.Context, target moniker.Moniker, use decl.UseDecl) (*Route, error) {
	route, err := r.walk(ctx, target, use)
	if err != nil {
		if errors.Is(err, ErrInternal) {
			r.logger.Error("Capability route walk hit an internal error", "target", target.String(), "capability", use.SourceName, "error", err)
		} else {
			r.logger.Debug("Capability route failed", "target", target.String(), "capability", use.SourceName, "error", err)
		}
		r.emit(ctx, hooks.NewErrorEvent(hooks.CapabilityRouted, target,
			hooks.CapabilityRoutedPayload{Kind: use.Kind, Name: use.SourceName}, err))
		return nil, err
	}

	if r.dispatcher != nil {
		event := hooks.NewEvent(target, routedPayload(route))
		if err := r.dispatcher.Dispatch(ctx, event); err != nil {
			r.logger.Debug("Capability route denied by hook", "target", target.String(), "capability", use.SourceName, "error", err)
			r.emit(ctx, hooks.NewErrorEvent(hooks.CapabilityRouted, target,
				hooks.CapabilityRoutedPayload{Kind: use.Kind, Name: use.SourceName}, err))
			return nil, err
		}
	}
	return route, nil
}

func (r *Router) emit(ctx context.Context, event *hooks.Event) {
	if r.dispatcher == nil {
		return
	}
	if err := r.dispatcher.Dispatch(ctx, event); err != nil {
		r.logger.Debug("Hook failed on routing error event", "target", event.Target.String(), "error", err)
	}
}

func routedPayload(route *Route) hooks.CapabilityRoutedPayload {
	src := route.Source()
	p := hooks.CapabilityRoutedPayload{
		Kind:          route.Use.Kind,
		Name:          route.Use.SourceName,
		SourceMoniker: src.Moniker,
		SourceName:    src.Name,
		Hops:          route.Hops(),
	}
	switch src.Kind {
	case FromFramework:
		p.SourceKind = hooks.SourceFramework
	case FromRootParent:
		p.SourceKind = hooks.SourceRootParent
	default:
		p.SourceKind = hooks.SourceDeclared
	}
	return p
}

// walk holds the state of one route walk.
type walk struct {
	ctx     context.Context
	r       *Router
	route   *Route
	kind    decl.CapabilityKind
	visited map[string]bool
	hops    int
	bound   int
	subdirs []string
}

func (r *Router) walk(ctx context.Context, target moniker.Moniker, use decl.UseDecl) (*Route, error) {
	w := &walk{
		ctx:     ctx,
		r:       r,
		route:   &Route{Target: target, Use: use},
		kind:    use.Kind,
		visited: make(map[string]bool),
		bound:   target.Depth() + r.graph.Depth() + hopSlack,
	}
	if err := w.visit(target, use.SourceName); err != nil {
		return nil, err
	}

	var err error
	switch use.Source.Kind {
	case decl.RefFramework:
		err = w.fromFramework(target, use.SourceName)
	case decl.RefParent, decl.RefNone:
		err = w.offerWalk(target, use.SourceName)
	default:
		err = newError(InvalidSourceType, target, use.SourceName, fmt.Sprintf("cannot use from %s", use.Source))
	}
	if err != nil {
		return nil, err
	}
	if err := w.finish(); err != nil {
		return nil, err
	}
	return w.route, nil
}

// visit counts a hop at m and enforces the hop bound and single visit rule.
func (w *walk) visit(m moniker.Moniker, name string) error {
	w.hops++
	if w.hops > w.bound {
		return newError(Internal, m, name, fmt.Sprintf("route exceeded %d hops", w.bound))
	}
	key := m.WithoutInstanceIDs().String()
	if w.visited[key] {
		return newError(Internal, m, name, "route visited component twice")
	}
	w.visited[key] = true
	return nil
}

func (w *walk) push(kind SegmentKind, m moniker.Moniker, name string, rights *decl.Rights) {
	w.route.Segments = append(w.route.Segments, Segment{Kind: kind, Moniker: m, Name: name, Rights: rights})
}

// offerWalk finds the offer that routes name to the component at cur and
// follows its source.
func (w *walk) offerWalk(cur moniker.Moniker, name string) error {
	for {
		parent, ok := cur.Parent()
		if !ok {
			return w.fromRootParent(cur, name)
		}
		leaf, _ := cur.Leaf()

		if err := w.visit(parent, name); err != nil {
			return err
		}
		node, err := w.r.graph.Declaration(w.ctx, parent)
		if err != nil {
			return err
		}
		parentDecl := node.Decl

		var matches []decl.OfferDecl
		for _, o := range parentDecl.Offers {
			if o.Kind == w.kind && o.Name() == name && offerTargets(o.Target, leaf) {
				matches = append(matches, o)
			}
		}
		switch len(matches) {
		case 0:
			return newError(OfferDeclNotFound, cur, name, "")
		case 1:
		default:
			return newError(DuplicateOfferDecl, cur, name, fmt.Sprintf("%d offers from %s", len(matches), parent))
		}

		offer := matches[0]
		w.push(OfferBy, parent, name, offer.Rights)
		w.addSubdir(offer.Subdir)
		name = offer.SourceName

		switch offer.Source.Kind {
		case decl.RefSelf:
			return w.declaredBy(parent, parentDecl, name)
		case decl.RefFramework:
			return w.fromFramework(parent, name)
		case decl.RefChild:
			return w.exposeWalk(parent.Child(moniker.NewChildName(offer.Source.Name)), name)
		case decl.RefParent:
			cur = parent
		default:
			return newError(InvalidSourceType, parent, name, fmt.Sprintf("cannot offer from %s", offer.Source))
		}
	}
}

// exposeWalk follows exposes downward starting at the child cur.
func (w *walk) exposeWalk(cur moniker.Moniker, name string) error {
	for {
		if err := w.visit(cur, name); err != nil {
			return err
		}
		node, err := w.r.graph.Declaration(w.ctx, cur)
		if err != nil {
			return err
		}
		cur = node.Moniker
		d := node.Decl

		var matches []decl.ExposeDecl
		for _, e := range d.Exposes {
			if e.Kind == w.kind && e.Name() == name && e.ToParent() {
				matches = append(matches, e)
			}
		}
		switch len(matches) {
		case 0:
			return newError(ExposeDeclNotFound, cur, name, "")
		case 1:
		default:
			return newError(DuplicateExposeDecl, cur, name, fmt.Sprintf("%d exposes", len(matches)))
		}

		expose := matches[0]
		w.push(ExposeBy, cur, name, expose.Rights)
		w.addSubdir(expose.Subdir)
		name = expose.SourceName

		switch expose.Source.Kind {
		case decl.RefSelf:
			return w.declaredBy(cur, d, name)
		case decl.RefFramework:
			return w.fromFramework(cur, name)
		case decl.RefChild:
			cur = cur.Child(moniker.NewChildName(expose.Source.Name))
		default:
			return newError(InvalidSourceType, cur, name, fmt.Sprintf("cannot expose from %s", expose.Source))
		}
	}
}

func (w *walk) declaredBy(m moniker.Moniker, d *decl.ComponentDecl, name string) error {
	var matches []decl.CapabilityDecl
	for _, c := range d.Capabilities {
		if c.Kind == w.kind && c.Name == name {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return newError(CapabilityDeclNotFound, m, name, "")
	case 1:
	default:
		return newError(DuplicateCapabilityDecl, m, name, fmt.Sprintf("%d declarations", len(matches)))
	}
	w.push(DeclareBy, m, name, matches[0].Rights)
	return nil
}

func (w *walk) fromFramework(m moniker.Moniker, name string) error {
	b, ok := findBuiltin(w.r.framework, w.kind, name)
	if !ok {
		return newError(CapabilityDeclNotFound, m, name, "not a framework capability")
	}
	w.push(FromFramework, m, name, b.Rights)
	return nil
}

// fromRootParent handles an offer search that climbed past the root.
func (w *walk) fromRootParent(root moniker.Moniker, name string) error {
	b, ok := findBuiltin(w.r.rootParent, w.kind, name)
	if !ok {
		return newError(OfferDeclNotFound, root, name, "not offered by the root's parent")
	}
	w.push(FromRootParent, root, name, b.Rights)
	return nil
}

func (w *walk) addSubdir(s string) {
	if s != "" {
		w.subdirs = append(w.subdirs, s)
	}
}

// finish validates rights narrowing from the source back to the use and
// computes the effective rights and subdir.
func (w *walk) finish() error {
	route := w.route

	parts := make([]string, 0, len(w.subdirs)+1)
	for i := len(w.subdirs) - 1; i >= 0; i-- {
		parts = append(parts, w.subdirs[i])
	}
	if route.Use.Subdir != "" {
		parts = append(parts, route.Use.Subdir)
	}
	if len(parts) > 0 {
		route.Subdir = path.Join(parts...)
	}

	if w.kind != decl.Directory {
		return nil
	}

	var available decl.Rights
	known := false
	for i := len(route.Segments) - 1; i >= 0; i-- {
		seg := route.Segments[i]
		if seg.Rights == nil {
			continue
		}
		if known && !available.Contains(*seg.Rights) {
			return newError(InvalidDirectoryRights, seg.Moniker, seg.Name,
				fmt.Sprintf("%s declares %s, more than the %s available", seg.Kind, seg.Rights, available))
		}
		if known {
			available = available.Intersect(*seg.Rights)
		} else {
			available = *seg.Rights
			known = true
		}
	}
	if !known {
		return nil
	}
	if use := route.Use.Rights; use != nil && !available.Contains(*use) {
		return newError(InvalidDirectoryRights, route.Target, route.Use.SourceName,
			fmt.Sprintf("use requests %s, only %s available", use, available))
	}
	route.Rights = decl.NewRights(available)
	return nil
}

func offerTargets(target decl.Ref, leaf moniker.ChildName) bool {
	if leaf.Collection != "" {
		return target.Kind == decl.RefCollection && target.Name == leaf.Collection
	}
	return target.Kind == decl.RefChild && target.Name == leaf.Name
}

func findBuiltin(list []Builtin, kind decl.CapabilityKind, name string) (Builtin, bool) {
	for _, b := range list {
		if b.Kind == kind && b.Name == name {
			return b, true
		}
	}
	return Builtin{}, false
}
