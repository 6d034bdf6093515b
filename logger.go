package realm

import "log/slog"

// Logger defines the interface for framework logging. It uses structured
// logging with key-value pairs:
//
//	logger.Info("Component started", "moniker", "/a:1", "runner", "elf")
//
// The same method set is declared by the hooks and routing packages, so any
// Logger can be passed to them directly.
type Logger interface {
	// Info logs normal lifecycle progress such as a component starting.
	Info(msg string, args ...any)

	// Error logs failures that did not stop the framework.
	Error(msg string, args ...any)

	// Warn logs unusual conditions, for example a runner exit for an
	// execution that was already replaced.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics such as individual route walks.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
