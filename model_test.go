package realm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/moniker"
	"github.com/GoCodeAlone/realm/routing"
)

var errVeto = errors.New("vetoed by policy")

func parentWithChild() map[string]*decl.ComponentDecl {
	return map[string]*decl.ComponentDecl{
		"test:///root": {
			Children: []decl.ChildDecl{{Name: "parent", URL: "test:///parent"}},
		},
		"test:///parent": {
			Children: []decl.ChildDecl{{Name: "a", URL: "test:///a"}},
		},
		"test:///a": {Program: program()},
	}
}

func TestStartTwiceDispatchesOneStarted(t *testing.T) {
	runner := newRunnerHarness()
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Children: []decl.ChildDecl{{Name: "a", URL: "test:///a"}}},
		"test:///a":    {Program: program()},
	}, WithRunner(testRunner, runner))
	ctx := context.Background()

	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx, mustParse("/a")))
	a, err := m.LookUp(mustParse("/a"))
	require.NoError(t, err)
	exec := a.Execution()
	require.NotNil(t, exec)

	require.NoError(t, m.Start(ctx, mustParse("/a")))
	assert.Same(t, exec, a.Execution(), "a second start keeps the execution")
	assert.Equal(t, 1, log.count("started /a"))
	runner.AssertNumberOfCalls(t, "Start", 1)
	assert.Equal(t, StateStarted, a.State())
}

func TestDestroyParentStopsAndDestroysChildFirst(t *testing.T) {
	runner := newRunnerHarness()
	m, log := newTestModel(t, parentWithChild(), WithRunner(testRunner, runner))
	ctx := context.Background()

	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	_, err = m.Resolve(ctx, mustParse("/parent"))
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, mustParse("/parent/a")))

	require.NoError(t, m.Destroy(ctx, mustParse("/parent")))
	assert.Equal(t, []string{
		"stopped /parent/a",
		"destroyed /parent/a",
		"destroyed /parent",
	}, log.of(hooks.Stopped, hooks.Destroyed))

	runner.controller("/parent/a").AssertCalled(t, "Stop", mock.Anything)
	_, err = m.LookUp(mustParse("/parent"))
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.Empty(t, m.Root().Children())
}

func TestDestroyStartedParentStopsChildrenFirst(t *testing.T) {
	runner := newRunnerHarness()
	decls := parentWithChild()
	decls["test:///parent"].Program = program()
	m, log := newTestModel(t, decls, WithRunner(testRunner, runner))
	ctx := context.Background()

	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, mustParse("/parent")))
	require.NoError(t, m.Start(ctx, mustParse("/parent/a")))

	require.NoError(t, m.Stop(ctx, mustParse("/parent")))
	assert.Equal(t, []string{"stopped /parent/a", "stopped /parent"}, log.of(hooks.Stopped))

	parent, err := m.LookUp(mustParse("/parent"))
	require.NoError(t, err)
	assert.Equal(t, StateStopped, parent.State())
	assert.Nil(t, parent.Execution())

	// Stopped instances can start again with a new execution.
	require.NoError(t, m.Start(ctx, mustParse("/parent")))
	assert.Equal(t, StateStarted, parent.State())
	assert.Equal(t, 2, log.count("started /parent"))
}

func TestStopNotStartedIsNoop(t *testing.T) {
	m, log := newTestModel(t, parentWithChild())
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	require.NoError(t, m.Stop(ctx, mustParse("/parent")))
	assert.Empty(t, log.of(hooks.Stopped))
}

func TestResolveFailureLeavesInstanceDiscovered(t *testing.T) {
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Children: []decl.ChildDecl{{Name: "a", URL: "other:///a"}}},
	})
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)

	_, err = m.Resolve(ctx, mustParse("/a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemeNotRegistered)
	var rerr *ResolverError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, SchemeNotRegistered, rerr.Kind)
	var merr *ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "resolve", merr.Op)

	a, err := m.LookUp(mustParse("/a"))
	require.NoError(t, err)
	assert.Equal(t, StateDiscovered, a.State())
	assert.Nil(t, a.Decl())
	assert.Equal(t, 1, log.count("resolved /a !"))

	// Resolution is retryable once a resolver exists.
	require.NoError(t, m.Resolvers().Register("other", ResolverFunc(func(_ context.Context, u string) (*ResolvedComponent, error) {
		return &ResolvedComponent{Decl: &decl.ComponentDecl{}}, nil
	})))
	_, err = m.Resolve(ctx, mustParse("/a"))
	require.NoError(t, err)
	assert.Equal(t, StateResolved, a.State())
	assert.Equal(t, "other:///a", a.ResolvedURL())
}

func TestResolveRejectsInvalidDeclaration(t *testing.T) {
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Offers: []decl.OfferDecl{
			{Kind: decl.Protocol, Source: decl.SelfRef(), SourceName: "echo", Target: decl.ChildRef("missing")},
		}},
	})
	_, err := m.Resolve(context.Background(), moniker.Root())
	assert.ErrorIs(t, err, ErrManifestInvalid)
	assert.ErrorIs(t, err, decl.ErrUnknownChild)
	assert.Equal(t, StateDiscovered, m.Root().State())
}

func TestResolvedHookVetoFailsResolve(t *testing.T) {
	veto := hooks.Registration{
		Name:   "veto",
		Events: []hooks.EventType{hooks.Resolved},
		Hook:   hooks.HookFunc(func(context.Context, *hooks.Event) error { return errVeto }),
	}
	m, _ := newTestModel(t, parentWithChild(), WithHooks(veto))

	_, err := m.Resolve(context.Background(), moniker.Root())
	assert.ErrorIs(t, err, errVeto)
	var hookErr *hooks.Error
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "veto", hookErr.Hook)
	assert.Equal(t, StateDiscovered, m.Root().State())
	assert.Empty(t, m.Root().Children())
}

func TestStartResolvesAndCreatesStaticChildren(t *testing.T) {
	m, log := newTestModel(t, parentWithChild())
	require.NoError(t, m.StartRoot(context.Background()))

	assert.Equal(t, StateStarted, m.Root().State())
	children := m.Root().Children()
	require.Len(t, children, 1)
	assert.Equal(t, "/parent:1", children[0].Moniker().String())
	assert.Equal(t, StateDiscovered, children[0].State())
	assert.Equal(t, []string{
		"discovered /",
		"resolved /",
		"discovered /parent",
		"started /",
	}, log.all())
}

func TestStartRunnerFailureDispatchesStarted(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Start", mock.Anything, mock.Anything).Return(nil, errors.New("exec format error"))
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Program: program()},
	}, WithRunner(testRunner, runner))

	err := m.Start(context.Background(), moniker.Root())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComponentNotAvailable)
	var rerr *RunnerError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, testRunner, rerr.Runner)

	assert.Equal(t, []string{"resolved /", "started / !"}, log.all())
	assert.Equal(t, StateResolved, m.Root().State())
}

func TestStartWithUnknownRunner(t *testing.T) {
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Program: &decl.ProgramDecl{Runner: "elf"}},
	})
	err := m.Start(context.Background(), moniker.Root())
	assert.ErrorIs(t, err, ErrRunnerNotRegistered)
	assert.ErrorIs(t, err, ErrComponentNotAvailable)
}

func TestRunnerInvalidArgsPassThrough(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Start", mock.Anything, mock.Anything).Return(nil, NewRunnerError(InvalidArgs, testRunner, errors.New("missing binary")))
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Program: program()},
	}, WithRunner(testRunner, runner))

	err := m.Start(context.Background(), moniker.Root())
	assert.ErrorIs(t, err, ErrInvalidArgs)
	assert.NotErrorIs(t, err, ErrComponentNotAvailable)
}

func TestStartedHookVetoKillsProgram(t *testing.T) {
	runner := newRunnerHarness()
	veto := hooks.Registration{
		Name:   "veto",
		Events: []hooks.EventType{hooks.Started},
		Hook:   hooks.HookFunc(func(context.Context, *hooks.Event) error { return errVeto }),
	}
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Program: program()},
	}, WithRunner(testRunner, runner), WithHooks(veto))

	err := m.Start(context.Background(), moniker.Root())
	assert.ErrorIs(t, err, errVeto)
	runner.controller("/").AssertCalled(t, "Kill", mock.Anything)
	assert.Equal(t, StateResolved, m.Root().State())
	assert.Nil(t, m.Root().Execution())
}

func TestEagerChildrenStartInBackground(t *testing.T) {
	runner := newRunnerHarness()
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Children: []decl.ChildDecl{
			{Name: "eager", URL: "test:///eager", Startup: decl.StartupEager},
			{Name: "lazy", URL: "test:///lazy"},
		}},
		"test:///eager": {Program: program()},
		"test:///lazy":  {Program: program()},
	}, WithRunner(testRunner, runner))
	stream := m.Subscribe(hooks.Started)
	defer stream.Close()

	require.NoError(t, m.StartRoot(context.Background()))
	waitFor(t, stream, hooks.Started, "/")
	e := waitFor(t, stream, hooks.Started, "/eager")
	assert.False(t, e.Failed())

	lazy, err := m.LookUp(mustParse("/lazy"))
	require.NoError(t, err)
	assert.Equal(t, StateDiscovered, lazy.State())
}

func TestRunnerExitStopsInstance(t *testing.T) {
	runner := newRunnerHarness()
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Program: program()},
	}, WithRunner(testRunner, runner))
	stream := m.Subscribe(hooks.Stopped)
	defer stream.Close()
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, moniker.Root()))
	first := m.Root().Execution()
	info := runner.info("/")
	require.NotNil(t, info)

	info.OnExit(ExitStatus{Code: 2})
	info.OnExit(ExitStatus{Code: 3})
	e := waitFor(t, stream, hooks.Stopped, "/")
	p := e.Payload.(hooks.StoppedPayload)
	require.NotNil(t, p.Status)
	assert.Equal(t, 2, p.Status.Code)
	assert.Equal(t, StateStopped, m.Root().State())
	runner.controller("/").AssertNotCalled(t, "Stop", mock.Anything)

	require.NoError(t, m.Start(ctx, moniker.Root()))
	assert.NotEqual(t, first.ID, m.Root().Execution().ID)

	// An exit reported by the old execution is ignored.
	require.NoError(t, m.handleExit(ctx, m.Root(), first.ID, ExitStatus{Code: 9}))
	assert.Equal(t, StateStarted, m.Root().State())
	_, ok := stream.TryNext()
	assert.False(t, ok)
}

func TestDestroyCancelsPendingStart(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	controller := newController()
	runner := &MockRunner{}
	runner.On("Start", mock.Anything, mock.Anything).Return(controller, nil).Run(func(mock.Arguments) {
		close(entered)
		<-release
	})
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Children: []decl.ChildDecl{{Name: "a", URL: "test:///a"}}},
		"test:///a":    {Program: program()},
	}, WithRunner(testRunner, runner))
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	a, err := m.LookUp(mustParse("/a"))
	require.NoError(t, err)

	startErr := make(chan error, 1)
	go func() { startErr <- m.Start(ctx, mustParse("/a")) }()
	<-entered

	destroyErr := make(chan error, 1)
	go func() { destroyErr <- m.Destroy(ctx, mustParse("/a")) }()
	require.Eventually(t, a.Destroying, time.Second, time.Millisecond)

	err = m.Start(ctx, mustParse("/a"))
	assert.ErrorIs(t, err, ErrInstanceDestroying, "new actions fail fast")

	close(release)
	assert.ErrorIs(t, <-startErr, ErrActionCancelled)
	require.NoError(t, <-destroyErr)

	controller.AssertCalled(t, "Kill", mock.Anything)
	assert.Equal(t, StateDestroyed, a.State())
	assert.Equal(t, []string{"started /a !", "started /a !", "destroyed /a"}, log.of(hooks.Started, hooks.Destroyed))
}

func TestDestroyCancelsPendingResolve(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := ResolverFunc(func(context.Context, string) (*ResolvedComponent, error) {
		close(entered)
		<-release
		return &ResolvedComponent{Decl: &decl.ComponentDecl{
			Children: []decl.ChildDecl{{Name: "b", URL: "test:///b"}},
		}}, nil
	})
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Children: []decl.ChildDecl{{Name: "a", URL: "block:///a"}}},
	}, WithResolver("block", blocking))
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	a, err := m.LookUp(mustParse("/a"))
	require.NoError(t, err)

	resolveErr := make(chan error, 1)
	go func() {
		_, err := m.Resolve(ctx, mustParse("/a"))
		resolveErr <- err
	}()
	<-entered

	destroyErr := make(chan error, 1)
	go func() { destroyErr <- m.Destroy(ctx, mustParse("/a")) }()
	require.Eventually(t, a.Destroying, time.Second, time.Millisecond)

	_, err = m.Resolve(ctx, mustParse("/a"))
	assert.ErrorIs(t, err, ErrInstanceDestroying, "new actions fail fast")

	close(release)
	assert.ErrorIs(t, <-resolveErr, ErrActionCancelled)
	require.NoError(t, <-destroyErr)

	assert.Nil(t, a.Decl(), "a cancelled resolve attaches nothing")
	assert.Empty(t, a.Children())
	assert.Equal(t, StateDestroyed, a.State())
	assert.Equal(t, []string{
		"resolved /",
		"resolved /a !",
		"resolved /a !",
		"destroyed /a",
	}, log.of(hooks.Resolved, hooks.Destroyed))
}

func TestDescendantActionsFailFastWhileAncestorIsDestroyed(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	runner := &MockRunner{}
	runner.On("Start", mock.Anything, mock.Anything).Return(newController(), nil).Run(func(mock.Arguments) {
		close(entered)
		<-release
	})
	decls := parentWithChild()
	decls["test:///parent"].Program = program()
	m, log := newTestModel(t, decls, WithRunner(testRunner, runner))
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	_, err = m.Resolve(ctx, mustParse("/parent"))
	require.NoError(t, err)
	a, err := m.LookUp(mustParse("/parent/a"))
	require.NoError(t, err)

	startErr := make(chan error, 1)
	go func() { startErr <- m.Start(ctx, mustParse("/parent")) }()
	<-entered

	destroyErr := make(chan error, 1)
	go func() { destroyErr <- m.Destroy(ctx, mustParse("/parent")) }()
	require.Eventually(t, a.Destroying, time.Second, time.Millisecond)

	_, err = m.Resolve(ctx, mustParse("/parent/a"))
	assert.ErrorIs(t, err, ErrInstanceDestroying)
	err = m.Start(ctx, mustParse("/parent/a"))
	assert.ErrorIs(t, err, ErrInstanceDestroying)
	assert.Equal(t, StateDiscovered, a.State())

	close(release)
	assert.ErrorIs(t, <-startErr, ErrActionCancelled)
	require.NoError(t, <-destroyErr)

	runner.AssertNumberOfCalls(t, "Start", 1)
	assert.Equal(t, 1, log.count("resolved /parent/a !"))
	assert.Equal(t, 1, log.count("started /parent/a !"))
	assert.Equal(t, []string{"destroyed /parent/a", "destroyed /parent"}, log.of(hooks.Destroyed))
}

func refusingController() *MockController {
	c := &MockController{}
	c.On("Stop", mock.Anything).Return(errRefused)
	c.On("Kill", mock.Anything).Return(nil).Maybe()
	return c
}

var errRefused = errors.New("refused")

func TestStopFailureIsAnnounced(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Start", mock.Anything, mock.Anything).Return(refusingController(), nil)
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {Program: program()},
	}, WithRunner(testRunner, runner))
	stream := m.Subscribe(hooks.Stopped)
	defer stream.Close()
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, moniker.Root()))
	err := m.Stop(ctx, moniker.Root())
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, StateStopped, m.Root().State())
	assert.Equal(t, []string{"stopped / !"}, log.of(hooks.Stopped))

	e, ok := stream.TryNext()
	require.True(t, ok)
	assert.ErrorIs(t, e.Err, errRefused)
	assert.IsType(t, hooks.StoppedPayload{}, e.Payload)
}

func TestDestroyFailureIsAnnounced(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Start", mock.Anything, mock.Anything).Return(refusingController(), nil)
	m, log := newTestModel(t, parentWithChild(), WithRunner(testRunner, runner))
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	_, err = m.Resolve(ctx, mustParse("/parent"))
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, mustParse("/parent/a")))

	err = m.Destroy(ctx, mustParse("/parent"))
	assert.ErrorIs(t, err, errRefused)
	var merr *ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "destroy", merr.Op)

	assert.Equal(t, []string{
		"stopped /parent/a !",
		"destroyed /parent/a !",
		"destroyed /parent !",
	}, log.of(hooks.Stopped, hooks.Destroyed))
	_, err = m.LookUp(mustParse("/parent"))
	assert.ErrorIs(t, err, ErrInstanceNotFound, "the subtree is gone even when a stop failed")
}

func TestRouteUseResolvesOnDemand(t *testing.T) {
	resolver := newStaticResolver(map[string]*decl.ComponentDecl{
		"test:///root": {
			Offers: []decl.OfferDecl{
				{Kind: decl.Protocol, Source: decl.ChildRef("b"), SourceName: "echo", Target: decl.ChildRef("a")},
			},
			Children: []decl.ChildDecl{{Name: "a", URL: "test:///a"}, {Name: "b", URL: "test:///b"}},
		},
		"test:///a": {Uses: []decl.UseDecl{{Kind: decl.Protocol, SourceName: "echo"}}},
		"test:///b": {
			Capabilities: []decl.CapabilityDecl{{Kind: decl.Protocol, Name: "echo"}},
			Exposes:      []decl.ExposeDecl{{Kind: decl.Protocol, Source: decl.SelfRef(), SourceName: "echo"}},
		},
	})
	m, err := NewModel("test:///root", WithResolver("test", resolver))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)

	route, err := m.RouteUse(ctx, mustParse("/a"), "echo")
	require.NoError(t, err)
	assert.Equal(t, routing.DeclareBy, route.Source().Kind)
	assert.Equal(t, "/b:1", route.Source().Moniker.String())

	b, err := m.LookUp(mustParse("/b"))
	require.NoError(t, err)
	assert.Equal(t, StateResolved, b.State(), "the route walk resolved the source")
	assert.Equal(t, 1, resolver.Calls("test:///b"))

	_, err = m.RouteUse(ctx, mustParse("/a"), "missing")
	assert.ErrorIs(t, err, ErrUseNotFound)
}

func TestNamespaceOpenRoutes(t *testing.T) {
	runner := newRunnerHarness()
	m, _ := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {
			Offers: []decl.OfferDecl{
				{Kind: decl.Protocol, Source: decl.ParentRef(), SourceName: "config", Target: decl.ChildRef("a")},
			},
			Children: []decl.ChildDecl{{Name: "a", URL: "test:///a"}},
		},
		"test:///a": {
			Program: program(),
			Uses: []decl.UseDecl{
				{Kind: decl.Protocol, SourceName: "config"},
				{Kind: decl.Protocol, SourceName: "absent"},
			},
		},
	}, WithRunner(testRunner, runner), WithRootParentCapabilities(routing.Builtin{Kind: decl.Protocol, Name: "config"}))
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, mustParse("/a")))

	info := runner.info("/a")
	require.NotNil(t, info)
	assert.Equal(t, "test:///a#resolved", info.ResolvedURL)
	require.Len(t, info.Namespace.Entries(), 2)

	route, err := info.Namespace.Open(ctx, "/svc/config")
	require.NoError(t, err)
	assert.Equal(t, routing.FromRootParent, route.Source().Kind)

	_, err = info.Namespace.Open(ctx, "/svc/absent")
	assert.ErrorIs(t, err, routing.ErrOfferDeclNotFound)
	_, err = info.Namespace.Open(ctx, "/svc/nothing")
	assert.ErrorIs(t, err, ErrUseNotFound)

	info.Outgoing.Publish("/svc/echo", "server")
	v, ok := m.Root().Children()[0].Execution().Outgoing.Lookup("/svc/echo")
	assert.True(t, ok)
	assert.Equal(t, "server", v)
}

func TestRouteDenialHookFailsRoute(t *testing.T) {
	policy := hooks.Registration{
		Name:   "policy",
		Events: []hooks.EventType{hooks.CapabilityRouted},
		Hook: hooks.HookFunc(func(_ context.Context, e *hooks.Event) error {
			if e.Failed() {
				return nil
			}
			return errVeto
		}),
	}
	m, log := newTestModel(t, map[string]*decl.ComponentDecl{
		"test:///root": {
			Capabilities: []decl.CapabilityDecl{{Kind: decl.Protocol, Name: "echo"}},
			Offers:       []decl.OfferDecl{{Kind: decl.Protocol, Source: decl.SelfRef(), SourceName: "echo", Target: decl.ChildRef("a")}},
			Children:     []decl.ChildDecl{{Name: "a", URL: "test:///a"}},
		},
		"test:///a": {Uses: []decl.UseDecl{{Kind: decl.Protocol, SourceName: "echo"}}},
	}, WithHooks(policy))
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)

	_, err = m.RouteUse(ctx, mustParse("/a"), "echo")
	assert.ErrorIs(t, err, errVeto)
	assert.Equal(t, 1, log.count("capability_routed /a"))
	assert.Equal(t, 1, log.count("capability_routed /a !"))
}

func TestDestroyRootFulfilsRootStopped(t *testing.T) {
	m, _ := newTestModel(t, parentWithChild())
	ctx := context.Background()
	require.NoError(t, m.StartRoot(ctx))

	select {
	case <-m.RootStopped():
		t.Fatal("root stopped before destroy")
	default:
	}
	require.NoError(t, m.Destroy(ctx, moniker.Root()))
	require.NoError(t, m.WaitRootStopped(ctx))
	assert.Equal(t, StateDestroyed, m.Root().State())

	_, err := m.LookUp(moniker.Root())
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.ErrorIs(t, m.Destroy(ctx, moniker.Root()), ErrInstanceNotFound)
}

func TestDestroyReleasesOwnedHooks(t *testing.T) {
	m, _ := newTestModel(t, parentWithChild())
	ctx := context.Background()
	_, err := m.Resolve(ctx, moniker.Root())
	require.NoError(t, err)

	owner := mustParse("/parent")
	_, err = m.InstallHooks(hooks.Registration{
		Name:  "owned",
		Owner: &owner,
		Hook:  hooks.HookFunc(func(context.Context, *hooks.Event) error { return nil }),
	})
	require.NoError(t, err)
	assert.Contains(t, m.Dispatcher().Registrations(), "owned")

	require.NoError(t, m.Destroy(ctx, owner))
	assert.NotContains(t, m.Dispatcher().Registrations(), "owned")
}

func TestRunDestroysRootWhenContextEnds(t *testing.T) {
	m, log := newTestModel(t, parentWithChild())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	require.Eventually(t, func() bool { return m.Root().State() == StateStarted }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, StateDestroyed, m.Root().State())
	assert.Equal(t, 1, log.count("destroyed /"))
}

func TestNewModelOptions(t *testing.T) {
	_, err := NewModel("")
	assert.ErrorIs(t, err, ErrRootURLRequired)

	m, err := NewModel("", WithConfig(&Config{RootURL: "test:///root", LogEvents: true}))
	require.NoError(t, err)
	assert.Equal(t, "test:///root", m.Root().URL())
	assert.Equal(t, []string{"event-logger"}, m.Dispatcher().Registrations())

	_, err = NewModel("test:///root", WithConfig(&Config{ShutdownGrace: "soon"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewModel("test:///root", WithResolver("test", nil))
	assert.ErrorIs(t, err, ErrNilResolver)

	noop := ResolverFunc(func(context.Context, string) (*ResolvedComponent, error) { return nil, nil })
	_, err = NewModel("test:///root", WithResolver("test", noop), WithResolver("test", noop))
	assert.ErrorIs(t, err, ErrSchemeAlreadyRegistered)
}
