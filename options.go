package realm

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/realm/hooks"
	"github.com/GoCodeAlone/realm/routing"
)

// Option configures a Model during NewModel.
type Option func(*Model) error

// WithLogger sets the logger used by the model, its router and dispatcher.
func WithLogger(logger Logger) Option {
	return func(m *Model) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithConfig replaces the model configuration.
func WithConfig(cfg *Config) Option {
	return func(m *Model) error {
		if cfg == nil {
			return nil
		}
		c := *cfg
		c.applyDefaults()
		if err := c.Validate(); err != nil {
			return err
		}
		m.config = &c
		return nil
	}
}

// WithResolver registers r for URL scheme.
func WithResolver(scheme string, r Resolver) Option {
	return func(m *Model) error {
		return m.resolvers.Register(scheme, r)
	}
}

// WithRunner registers r under name.
func WithRunner(name string, r Runner) Option {
	return func(m *Model) error {
		return m.runners.Register(name, r)
	}
}

// WithHooks installs framework hooks ahead of anything installed later.
func WithHooks(regs ...hooks.Registration) Option {
	return func(m *Model) error {
		m.pendingHooks = append(m.pendingHooks, regs...)
		return nil
	}
}

// WithHooksProvider installs every hook p provides.
func WithHooksProvider(p hooks.HooksProvider) Option {
	return func(m *Model) error {
		m.pendingHooks = append(m.pendingHooks, p.Hooks()...)
		return nil
	}
}

// WithFrameworkCapabilities adds capabilities usable from "framework".
func WithFrameworkCapabilities(builtins ...routing.Builtin) Option {
	return func(m *Model) error {
		m.framework = append(m.framework, builtins...)
		return nil
	}
}

// WithRootParentCapabilities adds capabilities offered to the root by its
// parent.
func WithRootParentCapabilities(builtins ...routing.Builtin) Option {
	return func(m *Model) error {
		m.rootParent = append(m.rootParent, builtins...)
		return nil
	}
}

// WithTracerProvider sets where lifecycle spans are recorded. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Model) error {
		m.tracerProvider = tp
		return nil
	}
}
