// Package realm maintains a tree of component instances, routes the
// capabilities they use to their providers and drives each instance
// through its lifecycle using pluggable resolvers and runners.
//
// Instances move through Discovered, Resolved, Started, Stopped and
// Destroyed. Every transition is announced as a hooks.Event; hooks run in
// registration order and may veto Resolved, Started and CapabilityRouted
// by returning an error; the operation then fails with that error and an
// error-tagged event of the same type follows. Hook errors on Discovered,
// Stopped and Destroyed are logged and never returned, since the
// transition has already happened. Failed operations are announced as
// error-tagged events whether or not a hook is involved.
package realm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
	"github.com/GoCodeAlone/realm/routing"
)

// Model is the component manager: the instance tree plus the machinery
// acting on it.
type Model struct {
	root       *ComponentInstance
	resolvers  *ResolverRegistry
	runners    *RunnerRegistry
	dispatcher *hooks.Dispatcher
	router     *routing.Router
	logger     Logger
	config     *Config
	tracer     trace.Tracer
	pool       *taskPool
	rootStop   *rootStopSignal

	discoverRoot sync.Once

	// Set by options, consumed by NewModel.
	pendingHooks   []hooks.Registration
	framework      []routing.Builtin
	rootParent     []routing.Builtin
	tracerProvider trace.TracerProvider
}

// NewModel creates a model whose root component has rootURL. An empty
// rootURL falls back to Config.RootURL.
func NewModel(rootURL string, opts ...Option) (*Model, error) {
	m := &Model{
		resolvers: NewResolverRegistry(),
		runners:   NewRunnerRegistry(),
		logger:    nopLogger{},
		config:    DefaultConfig(),
		rootStop:  newRootStopSignal(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if rootURL == "" {
		rootURL = m.config.RootURL
	}
	if rootURL == "" {
		return nil, ErrRootURLRequired
	}

	if m.tracerProvider == nil {
		m.tracerProvider = otel.GetTracerProvider()
	}
	m.tracer = m.tracerProvider.Tracer(m.config.TracerName)

	m.dispatcher = hooks.NewDispatcher(m.logger)
	if m.config.LogEvents {
		m.pendingHooks = append([]hooks.Registration{hooks.LoggingRegistration(m.logger)}, m.pendingHooks...)
	}
	if _, err := m.dispatcher.Install(m.pendingHooks...); err != nil {
		return nil, err
	}
	m.pendingHooks = nil

	m.router = routing.New(graph{m}, m.dispatcher, routing.Options{
		Framework:  append(append([]routing.Builtin{}, m.config.FrameworkCapabilities...), m.framework...),
		RootParent: append(append([]routing.Builtin{}, m.config.RootParentCapabilities...), m.rootParent...),
		Logger:     m.logger,
	})
	m.pool = newTaskPool(m.logger)
	m.root = newInstance(moniker.Root(), rootURL, decl.StartupEager, "")
	return m, nil
}

// Root returns the root instance.
func (m *Model) Root() *ComponentInstance { return m.root }

// Config returns the effective configuration.
func (m *Model) Config() *Config { return m.config }

// Dispatcher returns the event dispatcher.
func (m *Model) Dispatcher() *hooks.Dispatcher { return m.dispatcher }

// Resolvers returns the resolver registry.
func (m *Model) Resolvers() *ResolverRegistry { return m.resolvers }

// Runners returns the runner registry.
func (m *Model) Runners() *RunnerRegistry { return m.runners }

// InstallHooks appends hooks to the dispatch order. Registrations with an
// Owner are released when that instance is destroyed.
func (m *Model) InstallHooks(regs ...hooks.Registration) ([]hooks.HookRef, error) {
	return m.dispatcher.Install(regs...)
}

// Subscribe returns a stream of the events of the given types.
func (m *Model) Subscribe(types ...hooks.EventType) *hooks.Stream {
	return m.dispatcher.Subscribe(types...)
}

// RootStopped is closed once the root instance has been destroyed.
func (m *Model) RootStopped() <-chan struct{} {
	return m.rootStop.done
}

// WaitRootStopped blocks until the root is destroyed or ctx ends.
func (m *Model) WaitRootStopped(ctx context.Context) error {
	select {
	case <-m.rootStop.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartRoot announces the root instance and starts it.
func (m *Model) StartRoot(ctx context.Context) error {
	m.discoverRoot.Do(func() {
		m.dispatchLogged(ctx, hooks.NewEvent(m.root.moniker, hooks.DiscoveredPayload{URL: m.root.url}))
	})
	return m.Start(ctx, moniker.Root())
}

// Run starts the root and blocks until the root is destroyed or ctx ends.
// When ctx ends the root is destroyed. The task pool is shut down before
// Run returns.
func (m *Model) Run(ctx context.Context) error {
	if err := m.StartRoot(ctx); err != nil {
		return err
	}
	m.logger.Info("Component model running", "root", m.root.url)

	var errs []error
	select {
	case <-m.rootStop.done:
	case <-ctx.Done():
		m.logger.Info("Context done, destroying root")
		if err := m.Destroy(context.WithoutCancel(ctx), moniker.Root()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Shutdown stops the background task pool, waiting at most the configured
// grace period before cancelling running tasks.
func (m *Model) Shutdown() error {
	grace, err := m.config.Grace()
	if err != nil {
		return err
	}
	if err := m.pool.Shutdown(grace); err != nil {
		return fmt.Errorf("shutting down task pool: %w", err)
	}
	return nil
}

// RouteUse routes the use named useName declared by the instance at target.
// The instance is resolved first if needed.
func (m *Model) RouteUse(ctx context.Context, target moniker.Moniker, useName string) (*routing.Route, error) {
	inst, err := m.LookUp(target)
	if err != nil {
		return nil, err
	}
	d, err := m.declaration(ctx, inst)
	if err != nil {
		return nil, modelError("route", inst.moniker, err)
	}
	use, ok := d.FindUse(useName)
	if !ok {
		return nil, modelError("route", inst.moniker, fmt.Errorf("%w: %s", ErrUseNotFound, useName))
	}
	return m.routeUse(ctx, inst, use)
}

func (m *Model) routeUse(ctx context.Context, inst *ComponentInstance, use decl.UseDecl) (*routing.Route, error) {
	ctx, span := m.startSpan(ctx, "realm.RouteUse", inst,
		attribute.String("realm.capability", use.SourceName),
		attribute.String("realm.capability_kind", string(use.Kind)))
	route, err := m.router.RouteUse(ctx, inst.moniker, use)
	endSpan(span, err)
	if err != nil {
		return nil, modelError("route", inst.moniker, err)
	}
	return route, nil
}

// declaration returns the decl of inst, resolving it if it is Discovered.
func (m *Model) declaration(ctx context.Context, inst *ComponentInstance) (*decl.ComponentDecl, error) {
	inst.mu.RLock()
	state, d := inst.state, inst.decl
	inst.mu.RUnlock()
	if state == StateDestroyed {
		return nil, ErrInstanceNotFound
	}
	if d != nil {
		return d, nil
	}
	if err := m.resolve(ctx, inst); err != nil {
		return nil, err
	}
	return inst.Decl(), nil
}

// graph exposes the live tree to the router.
type graph struct {
	m *Model
}

func (g graph) Declaration(ctx context.Context, mon moniker.Moniker) (routing.Node, error) {
	inst, err := g.m.LookUp(mon)
	if err != nil {
		return routing.Node{}, err
	}
	d, err := g.m.declaration(ctx, inst)
	if err != nil {
		return routing.Node{}, err
	}
	return routing.Node{Moniker: inst.moniker, Decl: d}, nil
}

func (g graph) Depth() int {
	return g.m.root.depth()
}

// dispatch sends event and returns any hook error.
func (m *Model) dispatch(ctx context.Context, event *hooks.Event) error {
	return m.dispatcher.Dispatch(ctx, event)
}

// dispatchLogged sends event and only logs hook errors. It is used for
// error-tagged events and for transitions hooks cannot veto.
func (m *Model) dispatchLogged(ctx context.Context, event *hooks.Event) {
	if err := m.dispatcher.Dispatch(ctx, event); err != nil {
		m.logger.Warn("Hook failed", "event", event.Type, "moniker", event.Target.String(), "error", err)
	}
}

func (m *Model) startSpan(ctx context.Context, name string, inst *ComponentInstance, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		attribute.String("realm.moniker", inst.moniker.String()),
		attribute.String("realm.url", inst.url),
	}, attrs...)
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
