package realm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
)

const testRunner = "test"

// MockRunner is a testify mock of Runner. A Return value may be a
// func(context.Context, *StartInfo) Controller to build the controller per
// call.
type MockRunner struct {
	mock.Mock
}

func (r *MockRunner) Start(ctx context.Context, info *StartInfo) (Controller, error) {
	ret := r.Called(ctx, info)
	var c Controller
	if rf, ok := ret.Get(0).(func(context.Context, *StartInfo) Controller); ok {
		c = rf(ctx, info)
	} else if ret.Get(0) != nil {
		c = ret.Get(0).(Controller)
	}
	return c, ret.Error(1)
}

// MockController is a testify mock of Controller.
type MockController struct {
	mock.Mock
}

func (c *MockController) Stop(ctx context.Context) error {
	return c.Called(ctx).Error(0)
}

func (c *MockController) Kill(ctx context.Context) error {
	return c.Called(ctx).Error(0)
}

func newController() *MockController {
	c := &MockController{}
	c.On("Stop", mock.Anything).Return(nil).Maybe()
	c.On("Kill", mock.Anything).Return(nil).Maybe()
	return c
}

// runnerHarness is a MockRunner that hands out a fresh MockController per
// start and keeps every StartInfo it saw.
type runnerHarness struct {
	*MockRunner

	mu          sync.Mutex
	controllers map[string]*MockController
	infos       map[string]*StartInfo
}

func newRunnerHarness() *runnerHarness {
	h := &runnerHarness{
		MockRunner:  &MockRunner{},
		controllers: make(map[string]*MockController),
		infos:       make(map[string]*StartInfo),
	}
	h.On("Start", mock.Anything, mock.Anything).Return(func(_ context.Context, info *StartInfo) Controller {
		c := newController()
		key := info.Moniker.WithoutInstanceIDs().String()
		h.mu.Lock()
		h.controllers[key] = c
		h.infos[key] = info
		h.mu.Unlock()
		return c
	}, nil)
	return h
}

// controller returns the last controller handed to the instance at m.
func (h *runnerHarness) controller(m string) *MockController {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controllers[m]
}

func (h *runnerHarness) info(m string) *StartInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.infos[m]
}

// staticResolver serves decls keyed by URL.
type staticResolver struct {
	mu    sync.Mutex
	decls map[string]*decl.ComponentDecl
	calls map[string]int
}

func newStaticResolver(decls map[string]*decl.ComponentDecl) *staticResolver {
	for _, d := range decls {
		d.Normalize()
	}
	return &staticResolver{decls: decls, calls: make(map[string]int)}
}

func (r *staticResolver) Resolve(_ context.Context, u string) (*ResolvedComponent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[u]++
	d, ok := r.decls[u]
	if !ok {
		return nil, NewResolverError(ManifestNotFound, u, nil)
	}
	return &ResolvedComponent{ResolvedURL: u + "#resolved", Decl: d}, nil
}

func (r *staticResolver) Calls(u string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[u]
}

func program() *decl.ProgramDecl {
	return &decl.ProgramDecl{Runner: testRunner}
}

// eventLog records dispatched events as "type moniker" with instance ids
// removed, suffixed with " !" for error-tagged events.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) registration() hooks.Registration {
	return hooks.Registration{
		Name: "event-log",
		Hook: hooks.HookFunc(func(_ context.Context, e *hooks.Event) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			s := fmt.Sprintf("%s %s", e.Type, e.Target.WithoutInstanceIDs())
			if e.Failed() {
				s += " !"
			}
			l.events = append(l.events, s)
			return nil
		}),
	}
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) of(types ...hooks.EventType) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, s := range l.events {
		for _, t := range types {
			if len(s) > len(t) && s[:len(t)+1] == string(t)+" " {
				out = append(out, s)
			}
		}
	}
	return out
}

func (l *eventLog) count(s string) int {
	n := 0
	for _, e := range l.all() {
		if e == s {
			n++
		}
	}
	return n
}

// newTestModel builds a model over decls with a mock runner registered as
// "test" and an eventLog installed first.
func newTestModel(t *testing.T, decls map[string]*decl.ComponentDecl, opts ...Option) (*Model, *eventLog) {
	t.Helper()
	log := &eventLog{}
	base := []Option{
		WithLogger(&testLogger{t: t}),
		WithResolver("test", newStaticResolver(decls)),
		WithHooks(log.registration()),
	}
	m, err := NewModel("test:///root", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, log
}

// waitFor reads s until an event of type typ for target (ids ignored)
// arrives.
func waitFor(t *testing.T, s *hooks.Stream, typ hooks.EventType, target string) *hooks.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		e, err := s.Next(ctx)
		require.NoError(t, err, "waiting for %s %s", typ, target)
		if e.Type == typ && e.Target.WithoutInstanceIDs().String() == target {
			return e
		}
	}
}

func mustParse(s string) moniker.Moniker {
	return moniker.MustParse(s)
}
