package realm

import (
	"context"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// taskPool runs the model's background work: runner exit handling and
// eager child starts.
type taskPool struct {
	sctx   *stopper.Context
	ctx    context.Context
	cancel context.CancelFunc
	logger Logger
}

func newTaskPool(logger Logger) *taskPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskPool{
		sctx:   stopper.WithContext(ctx),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Go runs fn in the background. It reports false once the pool is stopping.
func (p *taskPool) Go(name string, fn func(ctx context.Context) error) bool {
	if p.sctx.IsStopping() {
		p.logger.Warn("Task pool is stopping, dropping task", "task", name)
		return false
	}
	p.sctx.Go(func(*stopper.Context) error {
		if err := fn(p.ctx); err != nil {
			p.logger.Error("Background task failed", "task", name, "error", err)
		}
		return nil
	})
	return true
}

// Shutdown stops accepting tasks and waits for running ones. Tasks still
// running after grace see their context cancelled.
func (p *taskPool) Shutdown(grace time.Duration) error {
	p.sctx.Stop(grace)
	timer := time.AfterFunc(grace, p.cancel)
	defer timer.Stop()
	err := p.sctx.Wait()
	p.cancel()
	return err
}

// rootStopSignal is fulfilled once, when the root instance is destroyed.
type rootStopSignal struct {
	once sync.Once
	done chan struct{}
}

func newRootStopSignal() *rootStopSignal {
	return &rootStopSignal{done: make(chan struct{})}
}

func (s *rootStopSignal) fire() {
	s.once.Do(func() { close(s.done) })
}
