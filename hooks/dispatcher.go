package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/realm/moniker"
)

// Dispatcher errors
var (
	ErrHookPanicked = errors.New("hook panicked")
	ErrNilHook      = errors.New("hook cannot be nil")
)

// Logger is the structured logger used by the dispatcher. It has the same
// method set as realm.Logger.
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

// Hook observes events. Returning an error fails the operation that
// produced the event.
type Hook interface {
	OnEvent(ctx context.Context, event *Event) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, event *Event) error

// OnEvent calls f.
func (f HookFunc) OnEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Registration describes a hook to install. An empty Events list matches
// every event type. Owner, when set, is the moniker of the component that
// provided the hook; the hook is released when that component is destroyed.
type Registration struct {
	Name   string
	Events []EventType
	Hook   Hook
	Owner  *moniker.Moniker
}

// HooksProvider is implemented by anything that contributes hooks.
type HooksProvider interface {
	Hooks() []Registration
}

// HookRef is a weak reference to an installed hook. It stays valid as a
// value after the hook is released; dispatch simply skips it.
type HookRef uint64

// Error is returned by Dispatch when a hook fails.
type Error struct {
	Hook  string
	Event EventType
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hook %q failed on %s: %v", e.Hook, e.Event, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type registration struct {
	name   string
	filter map[EventType]bool
	ref    HookRef
}

type entry struct {
	hook  Hook
	owner *moniker.Moniker
}

// Dispatcher delivers events to hooks in registration order and to
// subscribed streams.
type Dispatcher struct {
	mu            sync.RWMutex
	registrations []registration
	table         map[HookRef]entry
	nextRef       HookRef
	streams       []*Stream
	logger        Logger
}

// NewDispatcher returns an empty dispatcher. A nil logger discards output.
func NewDispatcher(logger Logger) *Dispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{
		table:  make(map[HookRef]entry),
		logger: logger,
	}
}

// Install appends registrations to the dispatch order and returns a weak
// reference for each.
func (d *Dispatcher) Install(regs ...Registration) ([]HookRef, error) {
	for _, r := range regs {
		if r.Hook == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilHook, r.Name)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.prune()
	refs := make([]HookRef, 0, len(regs))
	for _, r := range regs {
		d.nextRef++
		ref := d.nextRef
		var filter map[EventType]bool
		if len(r.Events) > 0 {
			filter = make(map[EventType]bool, len(r.Events))
			for _, t := range r.Events {
				filter[t] = true
			}
		}
		d.registrations = append(d.registrations, registration{name: r.Name, filter: filter, ref: ref})
		d.table[ref] = entry{hook: r.Hook, owner: r.Owner}
		refs = append(refs, ref)
		d.logger.Debug("Hook installed", "hook", r.Name, "events", r.Events)
	}
	return refs, nil
}

// InstallProvider installs every registration p returns.
func (d *Dispatcher) InstallProvider(p HooksProvider) ([]HookRef, error) {
	return d.Install(p.Hooks()...)
}

// Release drops the hook behind ref. Its registration is skipped from then on.
func (d *Dispatcher) Release(ref HookRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.table, ref)
}

// ReleaseOwner drops every hook owned by m or one of its descendants.
func (d *Dispatcher) ReleaseOwner(m moniker.Moniker) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	released := 0
	for ref, e := range d.table {
		if e.owner == nil {
			continue
		}
		if e.owner.Matches(m) || m.IsAncestorOf(*e.owner) {
			delete(d.table, ref)
			released++
		}
	}
	return released
}

// prune forgets registrations whose hooks were released. Caller holds d.mu.
func (d *Dispatcher) prune() {
	kept := d.registrations[:0]
	for _, r := range d.registrations {
		if _, ok := d.table[r.ref]; ok {
			kept = append(kept, r)
		}
	}
	d.registrations = kept
}

// Registrations returns the names of live registrations in dispatch order.
func (d *Dispatcher) Registrations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.registrations))
	for _, r := range d.registrations {
		if _, ok := d.table[r.ref]; ok {
			names = append(names, r.name)
		}
	}
	return names
}

// Dispatch invokes every matching hook in registration order, waiting for
// each before calling the next. The first hook error stops dispatch and is
// returned as *Error. Every subscribed stream then receives the event; if a
// hook failed, the streamed copy carries that error.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	d.mu.RLock()
	regs := make([]registration, len(d.registrations))
	copy(regs, d.registrations)
	d.mu.RUnlock()

	var hookErr error
	for _, r := range regs {
		if r.filter != nil && !r.filter[event.Type] {
			continue
		}
		d.mu.RLock()
		e, ok := d.table[r.ref]
		d.mu.RUnlock()
		if !ok {
			continue
		}
		if err := d.invoke(ctx, r.name, e.hook, event); err != nil {
			hookErr = &Error{Hook: r.name, Event: event.Type, Err: err}
			d.logger.Debug("Hook returned error", "hook", r.name, "event", event.Type, "target", event.Target.String(), "error", err)
			break
		}
	}

	published := event
	if hookErr != nil && event.Err == nil {
		c := *event
		c.Err = hookErr
		published = &c
	}
	d.publish(published)
	return hookErr
}

func (d *Dispatcher) invoke(ctx context.Context, name string, hook Hook, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Hook panicked", "hook", name, "event", event.Type, "panic", r)
			err = fmt.Errorf("%w: %v", ErrHookPanicked, r)
		}
	}()
	return hook.OnEvent(ctx, event)
}

// Subscribe returns a stream of the events of the given types dispatched
// from now on. With no types it receives every event.
func (d *Dispatcher) Subscribe(types ...EventType) *Stream {
	s := newStream(d, types)
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s
}

func (d *Dispatcher) unsubscribe(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.streams {
		if cur == s {
			d.streams = append(d.streams[:i], d.streams[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) publish(event *Event) {
	d.mu.RLock()
	streams := make([]*Stream, len(d.streams))
	copy(streams, d.streams)
	d.mu.RUnlock()

	for _, s := range streams {
		s.push(event)
	}
}
