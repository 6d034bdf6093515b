// Package hooks provides the ordered publish/subscribe system used to notify
// observers of component lifecycle and routing events.
//
// Hooks are invoked synchronously, one at a time, in registration order. A
// hook returning an error halts dispatch and fails the operation that
// produced the event, which is how policy (for example denying a capability
// route) is enforced from outside the component model.
package hooks

import (
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/realm/decl"
	"github.com/GoCodeAlone/realm/moniker"
)

// EventType identifies the kind of occurrence an Event describes.
type EventType string

const (
	Discovered       EventType = "discovered"
	Resolved         EventType = "resolved"
	Started          EventType = "started"
	Stopped          EventType = "stopped"
	Destroyed        EventType = "destroyed"
	CapabilityRouted EventType = "capability_routed"
)

// AllEventTypes lists every event type in lifecycle order.
func AllEventTypes() []EventType {
	return []EventType{Discovered, Resolved, Started, Stopped, Destroyed, CapabilityRouted}
}

// Event is one occurrence for a target instance. Err is non-nil when the
// operation the event describes failed.
type Event struct {
	ID        string
	Type      EventType
	Target    moniker.Moniker
	Timestamp time.Time
	Payload   Payload
	Err       error
}

// Payload carries the type-specific data of an Event.
type Payload interface {
	eventType() EventType
}

// DiscoveredPayload is attached to Discovered events.
type DiscoveredPayload struct {
	URL string
}

// ResolvedPayload is attached to Resolved events.
type ResolvedPayload struct {
	URL         string
	ResolvedURL string
	Decl        *decl.ComponentDecl
}

// StartedPayload is attached to Started events. ExecutionID is empty when
// the start failed.
type StartedPayload struct {
	ExecutionID string
	Runner      string
}

// ExitStatus is reported by a runner when a program exits on its own.
type ExitStatus struct {
	Code int
	Err  error
}

// StoppedPayload is attached to Stopped events. Status is nil when the stop
// was requested rather than signaled by the runner.
type StoppedPayload struct {
	Status *ExitStatus
}

// DestroyedPayload is attached to Destroyed events.
type DestroyedPayload struct{}

// SourceKind describes where a routed capability comes from.
type SourceKind string

const (
	SourceDeclared   SourceKind = "declared"
	SourceFramework  SourceKind = "framework"
	SourceRootParent SourceKind = "root_parent"
)

// CapabilityRoutedPayload is attached to CapabilityRouted events. On
// failure only Kind and Name are set.
type CapabilityRoutedPayload struct {
	Kind          decl.CapabilityKind
	Name          string
	SourceKind    SourceKind
	SourceMoniker moniker.Moniker
	SourceName    string
	Hops          []string
}

func (DiscoveredPayload) eventType() EventType       { return Discovered }
func (ResolvedPayload) eventType() EventType         { return Resolved }
func (StartedPayload) eventType() EventType          { return Started }
func (StoppedPayload) eventType() EventType          { return Stopped }
func (DestroyedPayload) eventType() EventType        { return Destroyed }
func (CapabilityRoutedPayload) eventType() EventType { return CapabilityRouted }

// NewEvent returns a successful event whose type is taken from payload.
func NewEvent(target moniker.Moniker, payload Payload) *Event {
	return &Event{
		ID:        newEventID(),
		Type:      payload.eventType(),
		Target:    target,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// NewErrorEvent returns an error-tagged event of type t.
func NewErrorEvent(t EventType, target moniker.Moniker, payload Payload, err error) *Event {
	return &Event{
		ID:        newEventID(),
		Type:      t,
		Target:    target,
		Timestamp: time.Now(),
		Payload:   payload,
		Err:       err,
	}
}

// Failed reports whether the event carries an error outcome.
func (e *Event) Failed() bool {
	return e.Err != nil
}

// newEventID uses UUIDv7 so IDs sort by creation time.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
