package hooks

import "context"

// LoggingRegistration returns a hook that writes every matching event to
// logger: failures at error level, everything else at info level. It never
// fails an operation.
func LoggingRegistration(logger Logger, events ...EventType) Registration {
	return Registration{
		Name:   "event-logger",
		Events: events,
		Hook: HookFunc(func(_ context.Context, event *Event) error {
			args := []any{"event", event.Type, "target", event.Target.String(), "id", event.ID}
			if p, ok := event.Payload.(CapabilityRoutedPayload); ok {
				args = append(args, "capability", p.Name)
				if p.SourceKind != "" {
					args = append(args, "source", p.SourceMoniker.String(), "sourceKind", p.SourceKind)
				}
			}
			if event.Err != nil {
				logger.Error("Component event failed", append(args, "error", event.Err)...)
				return nil
			}
			logger.Info("Component event", args...)
			return nil
		}),
	}
}
