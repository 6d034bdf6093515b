package hooks

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// EventTypePrefix prefixes the CloudEvents type of every converted event.
const EventTypePrefix = "com.realm.component."

// CloudEventType returns the CloudEvents type string for t.
func CloudEventType(t EventType) string {
	return EventTypePrefix + string(t)
}

// CloudEvent converts e into a CloudEvent. The source is the target
// moniker; the outcome extension is "ok" or "error".
func (e *Event) CloudEvent() cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(e.ID)
	ce.SetSource(e.Target.String())
	ce.SetType(CloudEventType(e.Type))
	ce.SetTime(e.Timestamp)
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetSubject(e.Target.String())

	if data := e.payloadData(); len(data) > 0 {
		_ = ce.SetData(cloudevents.ApplicationJSON, data)
	}
	if e.Err != nil {
		ce.SetExtension("outcome", "error")
		ce.SetExtension("errormessage", e.Err.Error())
	} else {
		ce.SetExtension("outcome", "ok")
	}
	return ce
}

func (e *Event) payloadData() map[string]any {
	switch p := e.Payload.(type) {
	case DiscoveredPayload:
		return map[string]any{"url": p.URL}
	case ResolvedPayload:
		return map[string]any{"url": p.URL, "resolvedUrl": p.ResolvedURL}
	case StartedPayload:
		return map[string]any{"executionId": p.ExecutionID, "runner": p.Runner}
	case StoppedPayload:
		if p.Status == nil {
			return nil
		}
		data := map[string]any{"exitCode": p.Status.Code}
		if p.Status.Err != nil {
			data["exitError"] = p.Status.Err.Error()
		}
		return data
	case CapabilityRoutedPayload:
		data := map[string]any{"kind": string(p.Kind), "name": p.Name}
		if p.SourceKind != "" {
			data["sourceKind"] = string(p.SourceKind)
			data["sourceMoniker"] = p.SourceMoniker.String()
			data["sourceName"] = p.SourceName
			data["hops"] = p.Hops
		}
		return data
	}
	return nil
}

// Observer receives events as CloudEvents.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// ObserverRegistration wraps o as a hook registration named after its ID.
func ObserverRegistration(o Observer, events ...EventType) Registration {
	return Registration{
		Name:   o.ObserverID(),
		Events: events,
		Hook: HookFunc(func(ctx context.Context, event *Event) error {
			return o.OnEvent(ctx, event.CloudEvent())
		}),
	}
}

// FunctionalObserver is an Observer backed by a function.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver returns an Observer calling handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent calls the handler.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID returns the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
