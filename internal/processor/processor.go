// Package processor maps verified provider events to pipeline side effects:
// a sync call into the normalized store and zero-or-one realtime event.
//
// Unrecognized event types are not errors; processors acknowledge them with
// ActionIgnored so providers do not redeliver.
package processor

import (
	"context"

	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/verifier"
)

// Action describes what the processor did with an event
type Action string

const (
	// ActionProcessed - the event was recognized and handled
	ActionProcessed Action = "processed"

	// ActionIgnored - the event type is not handled by this processor
	ActionIgnored Action = "ignored"
)

// Outcome is the result of processing one event
type Outcome struct {
	// Success is false only when processing raised an error
	Success bool

	// EventType is the normalized realtime event type produced, if any
	EventType string

	// ObjectID identifies the business object the event concerned
	ObjectID string

	// Action describes how the event was handled
	Action Action

	// Event is the realtime event to publish for this outcome, nil when
	// the provider event maps to none. Publishing is the caller's job so
	// subscriber fan-out never runs on the processing path.
	Event *event.RealtimeEvent
}

// Processor handles events for one provider
type Processor interface {
	// Provider returns the provider identifier, e.g. "stripe"
	Provider() string

	// ProcessEvent performs provider-specific side effects for a verified
	// event and optionally returns a realtime event on the outcome
	ProcessEvent(ctx context.Context, env *verifier.Envelope, workspaceID, connectorID string) (*Outcome, error)

	// SupportedEventTypes lists the provider event types this processor handles
	SupportedEventTypes() []string
}

// SyncService syncs business objects into the normalized schema.
// The mapping/CRUD detail lives outside this pipeline; processors only
// hand over the object reference and raw data.
type SyncService interface {
	SyncObject(ctx context.Context, workspaceID, connectorID, objectType, objectID string, data map[string]any) error
}

// NoopSyncService is a SyncService that does nothing.
// Used in dev mode and wherever sync is handled out of process.
type NoopSyncService struct{}

// SyncObject does nothing
func (NoopSyncService) SyncObject(ctx context.Context, workspaceID, connectorID, objectType, objectID string, data map[string]any) error {
	return nil
}

// Registry maps provider identifiers to processors
type Registry struct {
	processors map[string]Processor
}

// NewRegistry creates a registry over the given processors
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor, len(processors))}
	for _, p := range processors {
		r.processors[p.Provider()] = p
	}
	return r
}

// Register adds a processor to the registry
func (r *Registry) Register(p Processor) {
	r.processors[p.Provider()] = p
}

// Lookup returns the processor for a provider, if registered
func (r *Registry) Lookup(provider string) (Processor, bool) {
	p, ok := r.processors[provider]
	return p, ok
}
