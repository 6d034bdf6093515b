// Package metrics exports component model activity to Prometheus. A
// Collector observes events through a hook and is itself a
// prometheus.Collector, so it is installed once on the model and registered
// once with a registry.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/routing"
)

// DefaultNamespace prefixes every metric name unless New is given another.
const DefaultNamespace = "realm"

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Collector counts lifecycle and routing events.
type Collector struct {
	events       *prometheus.CounterVec
	running      prometheus.Gauge
	runDuration  prometheus.Histogram
	routes       *prometheus.CounterVec
	hookFailures *prometheus.CounterVec

	mu        sync.Mutex
	startedAt map[string]time.Time
}

// New returns a Collector whose metrics live under namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "events_total",
				Help:      "Component events dispatched, by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "running_instances",
				Help:      "Component instances currently started.",
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "run_duration_seconds",
				Help:      "Time instances spent started before stopping.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
			},
		),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "routing",
				Name:      "routes_total",
				Help:      "Capability routes walked, by outcome and source or error kind.",
			},
			[]string{"outcome", "kind"},
		),
		hookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hooks",
				Name:      "vetoes_total",
				Help:      "Operations failed by a hook, by event type.",
			},
			[]string{"type"},
		),
		startedAt: make(map[string]time.Time),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.running.Describe(ch)
	c.runDuration.Describe(ch)
	c.routes.Describe(ch)
	c.hookFailures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.running.Collect(ch)
	c.runDuration.Collect(ch)
	c.routes.Collect(ch)
	c.hookFailures.Collect(ch)
}

// Registration returns the hook feeding the collector. It never fails an
// operation.
func (c *Collector) Registration() hooks.Registration {
	return hooks.Registration{
		Name: "metrics",
		Hook: hooks.HookFunc(func(_ context.Context, e *hooks.Event) error {
			c.Observe(e)
			return nil
		}),
	}
}

// Hooks implements hooks.HooksProvider.
func (c *Collector) Hooks() []hooks.Registration {
	return []hooks.Registration{c.Registration()}
}

// Observe records one event.
func (c *Collector) Observe(e *hooks.Event) {
	outcome := outcomeOK
	vetoed := false
	if e.Failed() {
		outcome = outcomeError
		var hookErr *hooks.Error
		if errors.As(e.Err, &hookErr) {
			vetoed = true
			c.hookFailures.WithLabelValues(string(e.Type)).Inc()
		}
	}
	c.events.WithLabelValues(string(e.Type), outcome).Inc()

	key := e.Target.String()
	switch e.Type {
	case hooks.Started:
		c.mu.Lock()
		_, running := c.startedAt[key]
		switch {
		case !e.Failed() && !running:
			c.startedAt[key] = e.Timestamp
			c.running.Inc()
		case vetoed && running:
			// A hook vetoed a start that was already announced.
			delete(c.startedAt, key)
			c.running.Dec()
		}
		c.mu.Unlock()

	case hooks.Stopped:
		c.mu.Lock()
		start, ok := c.startedAt[key]
		delete(c.startedAt, key)
		c.mu.Unlock()
		if ok {
			c.running.Dec()
			c.runDuration.Observe(e.Timestamp.Sub(start).Seconds())
		}

	case hooks.CapabilityRouted:
		c.routes.WithLabelValues(outcome, routeKind(e)).Inc()
	}
}

func routeKind(e *hooks.Event) string {
	if e.Failed() {
		var rerr *routing.Error
		if errors.As(e.Err, &rerr) {
			return rerr.Kind.String()
		}
		return "Unknown"
	}
	if p, ok := e.Payload.(hooks.CapabilityRoutedPayload); ok && p.SourceKind != "" {
		return string(p.SourceKind)
	}
	return "Unknown"
}
