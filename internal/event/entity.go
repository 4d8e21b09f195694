// Package event defines the inbound webhook event record and the ephemeral
// realtime event envelope flowing through the pipeline.
//
// WebhookEvent is the only durable record on the inbound path: it is created
// when the gateway accepts a webhook and mutated once processing finishes.
// The (provider, externalEventId) pair is unique and serves as the
// idempotency key for duplicate deliveries.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the processing status of a webhook event
type Status string

const (
	// StatusPending - event accepted but not yet picked up
	StatusPending Status = "PENDING"

	// StatusProcessing - event is being processed
	StatusProcessing Status = "PROCESSING"

	// StatusSkipped - event acknowledged without processing (no active connector)
	StatusSkipped Status = "SKIPPED"

	// StatusCompleted - event processed successfully
	StatusCompleted Status = "COMPLETED"

	// StatusFailed - processing raised an error; provider redelivery is the recovery path
	StatusFailed Status = "FAILED"
)

// IsTerminal returns true if this status represents a final state
func (s Status) IsTerminal() bool {
	return s == StatusSkipped || s == StatusCompleted || s == StatusFailed
}

// WebhookEvent is the persisted record of an inbound webhook delivery
type WebhookEvent struct {
	// ID is the unique identifier (TSID format, evt_ prefix)
	ID string `bson:"_id" json:"id"`

	// Provider is the inbound provider identifier (stripe, shopify, paypal)
	Provider string `bson:"provider" json:"provider"`

	// ExternalEventID is the provider-assigned event identifier
	ExternalEventID string `bson:"externalEventId" json:"externalEventId"`

	// EventType is the provider's event type, e.g. "orders/create"
	EventType string `bson:"eventType" json:"eventType"`

	// WorkspaceID is the owning workspace
	WorkspaceID string `bson:"workspaceId" json:"workspaceId"`

	// Payload is the raw webhook body
	Payload []byte `bson:"payload" json:"payload"`

	// Status is the current processing status
	Status Status `bson:"status" json:"status"`

	// ReceivedAt is when the gateway accepted the event
	ReceivedAt time.Time `bson:"receivedAt" json:"receivedAt"`

	// ProcessedAt is when processing finished, if it has
	ProcessedAt *time.Time `bson:"processedAt,omitempty" json:"processedAt,omitempty"`

	// Attempts is the number of processing attempts
	Attempts int `bson:"attempts" json:"attempts"`

	// LastError is the most recent processing error, if any
	LastError string `bson:"lastError,omitempty" json:"lastError,omitempty"`
}

// Well-known realtime event types emitted by the pipeline
const (
	TypeMetricsUpdated  = "metrics.updated"
	TypeAnomalyDetected = "anomaly.detected"
)

// RealtimeEvent is the ephemeral event envelope distributed in-process.
// It is never persisted and has no lifecycle beyond the emit call.
type RealtimeEvent struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspaceId"`
	ConnectorID string         `json:"connectorId,omitempty"`
	Data        map[string]any `json:"data"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewRealtimeEvent creates a realtime event with a fresh ID and timestamp
func NewRealtimeEvent(eventType, workspaceID string, data map[string]any) *RealtimeEvent {
	return &RealtimeEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		WorkspaceID: workspaceID,
		Data:        data,
		Timestamp:   time.Now(),
	}
}

// MarshalPayload renders the event as JSON for transports (NATS bridge, deliveries)
func (e *RealtimeEvent) MarshalPayload() ([]byte, error) {
	return json.Marshal(e)
}
