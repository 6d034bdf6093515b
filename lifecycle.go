package realm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
	"github.com/GoCodeAlone/realm/routing"
)

// Resolve resolves the instance at mon if it is Discovered and returns it.
// A failed resolve leaves the instance Discovered so it can be retried.
func (m *Model) Resolve(ctx context.Context, mon moniker.Moniker) (*ComponentInstance, error) {
	inst, err := m.LookUp(mon)
	if err != nil {
		return nil, err
	}
	if err := m.resolve(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (m *Model) resolve(ctx context.Context, inst *ComponentInstance) error {
	ctx, span := m.startSpan(ctx, "realm.Resolve", inst)
	err := m.withAction(ctx, inst, "resolve", hooks.Resolved, func() error {
		return m.resolveLocked(ctx, inst)
	})
	endSpan(span, err)
	return err
}

// resolveLocked runs with inst.actionMu held.
func (m *Model) resolveLocked(ctx context.Context, inst *ComponentInstance) error {
	switch state := inst.State(); {
	case state == StateDestroyed:
		return modelError("resolve", inst.moniker, ErrInstanceNotFound)
	case state.resolved():
		return nil
	}

	resolved, err := m.resolvers.Resolve(ctx, inst.url)
	if err != nil {
		m.logger.Warn("Failed to resolve component", "moniker", inst.moniker.String(), "url", inst.url, "error", err)
		m.dispatchLogged(ctx, hooks.NewErrorEvent(hooks.Resolved, inst.moniker, hooks.ResolvedPayload{URL: inst.url}, err))
		return modelError("resolve", inst.moniker, err)
	}
	if inst.destroying.Load() {
		m.dispatchLogged(ctx, failedEvent(inst, hooks.Resolved, ErrActionCancelled))
		return modelError("resolve", inst.moniker, ErrActionCancelled)
	}

	event := hooks.NewEvent(inst.moniker, hooks.ResolvedPayload{
		URL:         inst.url,
		ResolvedURL: resolved.ResolvedURL,
		Decl:        resolved.Decl,
	})
	if err := m.dispatch(ctx, event); err != nil {
		m.dispatchLogged(ctx, hooks.NewErrorEvent(hooks.Resolved, inst.moniker, hooks.ResolvedPayload{URL: inst.url}, err))
		return modelError("resolve", inst.moniker, err)
	}

	d := resolved.Decl
	inst.mu.Lock()
	if inst.destroying.Load() {
		inst.mu.Unlock()
		m.dispatchLogged(ctx, failedEvent(inst, hooks.Resolved, ErrActionCancelled))
		return modelError("resolve", inst.moniker, ErrActionCancelled)
	}
	inst.decl = d
	inst.resolvedURL = resolved.ResolvedURL
	inst.pkg = resolved.Package
	inst.state = StateResolved
	var discovered []*ComponentInstance
	for _, c := range d.Children {
		key := moniker.NewChildName(c.Name)
		if _, exists := inst.children[key]; exists {
			continue
		}
		inst.nextID[key]++
		child := newInstance(inst.moniker.Child(key.WithInstanceID(inst.nextID[key])), c.URL, c.Startup, "")
		inst.children[key] = child
		discovered = append(discovered, child)
	}
	inst.mu.Unlock()

	m.logger.Debug("Component resolved", "moniker", inst.moniker.String(), "resolvedURL", resolved.ResolvedURL, "children", len(discovered))
	for _, child := range discovered {
		m.dispatchLogged(ctx, hooks.NewEvent(child.moniker, hooks.DiscoveredPayload{URL: child.url}))
	}
	return nil
}

// Start starts the instance at mon, resolving it first if needed. Starting
// a Started instance succeeds without side effects. Eager static children
// are started in the background afterwards.
func (m *Model) Start(ctx context.Context, mon moniker.Moniker) error {
	inst, err := m.LookUp(mon)
	if err != nil {
		return err
	}
	ctx, span := m.startSpan(ctx, "realm.Start", inst)
	err = m.withAction(ctx, inst, "start", hooks.Started, func() error {
		return m.startLocked(ctx, inst)
	})
	endSpan(span, err)
	return err
}

// startLocked runs with inst.actionMu held.
func (m *Model) startLocked(ctx context.Context, inst *ComponentInstance) error {
	switch inst.State() {
	case StateStarted:
		return nil
	case StateDestroyed:
		return modelError("start", inst.moniker, ErrInstanceNotFound)
	case StateDiscovered:
		if err := m.resolveLocked(ctx, inst); err != nil {
			return err
		}
	}
	if inst.destroying.Load() {
		return modelError("start", inst.moniker, ErrActionCancelled)
	}

	inst.mu.RLock()
	d, resolvedURL, pkg := inst.decl, inst.resolvedURL, inst.pkg
	inst.mu.RUnlock()

	execID := newExecutionID()
	exec := &Execution{
		ID:          execID,
		ResolvedURL: resolvedURL,
		Namespace:   m.namespace(inst, d),
		Outgoing:    newDirectory(execID),
		StartedAt:   time.Now(),
	}

	if d.Program != nil {
		exec.Runner = d.Program.Runner
		info := &StartInfo{
			Moniker:     inst.moniker,
			ResolvedURL: resolvedURL,
			Program:     d.Program,
			Package:     pkg,
			Namespace:   exec.Namespace,
			Outgoing:    exec.Outgoing,
			OnExit:      m.exitHandler(inst, execID),
		}
		controller, err := m.runProgram(ctx, d.Program.Runner, info)
		if err != nil {
			m.logger.Warn("Failed to start component", "moniker", inst.moniker.String(), "runner", exec.Runner, "error", err)
			m.dispatchLogged(ctx, hooks.NewErrorEvent(hooks.Started, inst.moniker,
				hooks.StartedPayload{Runner: exec.Runner}, err))
			return modelError("start", inst.moniker, err)
		}
		exec.Controller = controller
	}

	if inst.destroying.Load() {
		m.kill(ctx, inst, exec)
		m.dispatchLogged(ctx, hooks.NewErrorEvent(hooks.Started, inst.moniker,
			hooks.StartedPayload{Runner: exec.Runner}, ErrActionCancelled))
		return modelError("start", inst.moniker, ErrActionCancelled)
	}

	event := hooks.NewEvent(inst.moniker, hooks.StartedPayload{ExecutionID: execID, Runner: exec.Runner})
	if err := m.dispatch(ctx, event); err != nil {
		m.kill(ctx, inst, exec)
		m.dispatchLogged(ctx, hooks.NewErrorEvent(hooks.Started, inst.moniker,
			hooks.StartedPayload{Runner: exec.Runner}, err))
		return modelError("start", inst.moniker, err)
	}

	inst.mu.Lock()
	inst.state = StateStarted
	inst.execution = exec
	children := inst.childrenLocked()
	inst.mu.Unlock()
	m.logger.Info("Component started", "moniker", inst.moniker.String(), "runner", exec.Runner, "execution", execID)

	for _, child := range children {
		if child.startup != decl.StartupEager {
			continue
		}
		if leaf, _ := child.moniker.Leaf(); leaf.Collection != "" {
			continue
		}
		mon := child.moniker
		m.pool.Go("start eager child "+mon.String(), func(ctx context.Context) error {
			err := m.Start(ctx, mon)
			if errors.Is(err, ErrInstanceDestroying) || errors.Is(err, ErrInstanceNotFound) || errors.Is(err, ErrActionCancelled) {
				return nil
			}
			return err
		})
	}
	return nil
}

func (m *Model) runProgram(ctx context.Context, runnerName string, info *StartInfo) (Controller, error) {
	runner, err := m.runners.Get(runnerName)
	if err != nil {
		return nil, err
	}
	controller, err := runner.Start(ctx, info)
	if err != nil {
		var rerr *RunnerError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, NewRunnerError(ComponentNotAvailable, runnerName, err)
	}
	return controller, nil
}

func (m *Model) kill(ctx context.Context, inst *ComponentInstance, exec *Execution) {
	if exec.Controller == nil {
		return
	}
	if err := exec.Controller.Kill(ctx); err != nil {
		m.logger.Error("Failed to kill program", "moniker", inst.moniker.String(), "execution", exec.ID, "error", err)
	}
}

// namespace builds the lazily routed namespace for the uses in d.
func (m *Model) namespace(inst *ComponentInstance, d *decl.ComponentDecl) *Namespace {
	ns := &Namespace{}
	for _, use := range d.Uses {
		ns.entries = append(ns.entries, &NamespaceEntry{
			Path: use.Path(),
			Use:  use,
			open: func(ctx context.Context) (*routing.Route, error) {
				return m.routeUse(ctx, inst, use)
			},
		})
	}
	return ns
}

// exitHandler returns the OnExit callback for one execution of inst.
func (m *Model) exitHandler(inst *ComponentInstance, execID string) func(ExitStatus) {
	var once sync.Once
	return func(status ExitStatus) {
		once.Do(func() {
			m.pool.Go("handle exit "+inst.moniker.String(), func(ctx context.Context) error {
				return m.handleExit(ctx, inst, execID, status)
			})
		})
	}
}

func (m *Model) handleExit(ctx context.Context, inst *ComponentInstance, execID string, status ExitStatus) error {
	inst.actionMu.Lock()
	exec := inst.Execution()
	if exec == nil || exec.ID != execID {
		inst.actionMu.Unlock()
		m.logger.Debug("Ignoring exit of a finished execution", "moniker", inst.moniker.String(), "execution", execID)
		return nil
	}
	m.logger.Info("Component exited", "moniker", inst.moniker.String(), "execution", execID, "code", status.Code)
	err := m.stopLocked(ctx, inst, &status, false)
	inst.actionMu.Unlock()
	if err != nil {
		return modelError("stop", inst.moniker, err)
	}

	if inst.durability == decl.DurabilitySingleRun && !inst.destroying.Load() {
		if err := m.Destroy(ctx, inst.moniker); err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return err
		}
	}
	return nil
}

// Stop stops the instance at mon and its descendants. Instances that are
// not Started are left alone.
func (m *Model) Stop(ctx context.Context, mon moniker.Moniker) error {
	inst, err := m.LookUp(mon)
	if err != nil {
		return err
	}
	return m.stop(ctx, inst)
}

func (m *Model) stop(ctx context.Context, inst *ComponentInstance) error {
	ctx, span := m.startSpan(ctx, "realm.Stop", inst)
	inst.actionMu.Lock()
	err := m.stopLocked(ctx, inst, nil, true)
	inst.actionMu.Unlock()
	if err != nil {
		err = modelError("stop", inst.moniker, err)
	}
	endSpan(span, err)
	return err
}

// stopLocked runs with inst.actionMu held. Children are stopped first.
// stopProgram is false when the program already exited.
func (m *Model) stopLocked(ctx context.Context, inst *ComponentInstance, status *ExitStatus, stopProgram bool) error {
	inst.mu.RLock()
	state, exec := inst.state, inst.execution
	inst.mu.RUnlock()
	if state != StateStarted {
		return nil
	}

	var errs []error
	for _, child := range inst.Children() {
		if err := m.stop(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}
	if stopProgram && exec != nil && exec.Controller != nil {
		if err := exec.Controller.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping execution %s: %w", exec.ID, err))
		}
	}

	inst.mu.Lock()
	inst.state = StateStopped
	inst.execution = nil
	inst.mu.Unlock()

	err := errors.Join(errs...)
	event := hooks.NewEvent(inst.moniker, hooks.StoppedPayload{Status: status})
	if err != nil {
		m.logger.Warn("Component stopped with errors", "moniker", inst.moniker.String(), "error", err)
		event = hooks.NewErrorEvent(hooks.Stopped, inst.moniker, hooks.StoppedPayload{Status: status}, err)
	} else {
		m.logger.Info("Component stopped", "moniker", inst.moniker.String())
	}
	m.dispatchLogged(ctx, event)
	return err
}

// Destroy destroys the instance at mon and its whole subtree, children
// first. Pending actions on the subtree fail with ErrInstanceDestroying or
// ErrActionCancelled. Destroying the root fulfils RootStopped.
func (m *Model) Destroy(ctx context.Context, mon moniker.Moniker) error {
	inst, err := m.LookUp(mon)
	if err != nil {
		return err
	}
	return m.destroy(ctx, inst)
}

func (m *Model) destroy(ctx context.Context, inst *ComponentInstance) error {
	ctx, span := m.startSpan(ctx, "realm.Destroy", inst)
	inst.markDestroying()

	inst.actionMu.Lock()
	defer inst.actionMu.Unlock()

	if inst.State() == StateDestroyed {
		endSpan(span, nil)
		return nil
	}

	var errs []error
	for _, child := range inst.Children() {
		if err := m.destroy(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.stopLocked(ctx, inst, nil, true); err != nil {
		errs = append(errs, err)
	}

	inst.mu.Lock()
	inst.state = StateDestroyed
	inst.execution = nil
	inst.mu.Unlock()

	event := hooks.NewEvent(inst.moniker, hooks.DestroyedPayload{})
	if len(errs) > 0 {
		event = hooks.NewErrorEvent(hooks.Destroyed, inst.moniker, hooks.DestroyedPayload{}, errors.Join(errs...))
	}
	m.dispatchLogged(ctx, event)
	m.removeChild(inst)
	if released := m.dispatcher.ReleaseOwner(inst.moniker); released > 0 {
		m.logger.Debug("Released hooks of destroyed component", "moniker", inst.moniker.String(), "hooks", released)
	}
	m.logger.Info("Component destroyed", "moniker", inst.moniker.String())
	if inst.moniker.IsRoot() {
		m.rootStop.fire()
	}

	var err error
	if len(errs) > 0 {
		err = modelError("destroy", inst.moniker, errors.Join(errs...))
	}
	span.SetAttributes(attribute.Int("realm.errors", len(errs)))
	endSpan(span, err)
	return err
}

// withAction runs fn under inst.actionMu, failing fast if inst is being
// destroyed. A fail-fast is announced as an error-tagged event of type
// failed.
func (m *Model) withAction(ctx context.Context, inst *ComponentInstance, op string, failed hooks.EventType, fn func() error) error {
	if inst.destroying.Load() {
		m.dispatchLogged(ctx, failedEvent(inst, failed, ErrInstanceDestroying))
		return modelError(op, inst.moniker, ErrInstanceDestroying)
	}
	inst.actionMu.Lock()
	defer inst.actionMu.Unlock()
	if inst.destroying.Load() {
		m.dispatchLogged(ctx, failedEvent(inst, failed, ErrInstanceDestroying))
		return modelError(op, inst.moniker, ErrInstanceDestroying)
	}
	if err := fn(); err != nil {
		return modelError(op, inst.moniker, err)
	}
	return nil
}

// failedEvent returns the error-tagged Resolved or Started event for an
// action on inst that did not run.
func failedEvent(inst *ComponentInstance, t hooks.EventType, err error) *hooks.Event {
	var payload hooks.Payload = hooks.ResolvedPayload{URL: inst.url}
	if t == hooks.Started {
		payload = hooks.StartedPayload{}
	}
	return hooks.NewErrorEvent(t, inst.moniker, payload, err)
}

func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
