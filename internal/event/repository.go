package event

import (
	"context"
	"errors"
	"time"
)

// Repository errors
var (
	// ErrNotFound - no event matches the query
	ErrNotFound = errors.New("webhook event not found")

	// ErrDuplicateEvent - an event with the same (provider, externalEventId)
	// already exists; the inbound delivery is a duplicate
	ErrDuplicateEvent = errors.New("duplicate webhook event")
)

// Repository stores inbound webhook event records
type Repository interface {
	// Insert persists a new event. Returns ErrDuplicateEvent when the
	// (provider, externalEventId) idempotency key already exists.
	Insert(ctx context.Context, ev *WebhookEvent) error

	// FindByExternalID looks up an event by its idempotency key.
	// Returns ErrNotFound when absent.
	FindByExternalID(ctx context.Context, provider, externalEventID string) (*WebhookEvent, error)

	// FindByID looks up an event by its ID. Returns ErrNotFound when absent.
	FindByID(ctx context.Context, id string) (*WebhookEvent, error)

	// MarkProcessed transitions the event to a terminal status, stamping
	// processedAt and recording the error message for failures.
	MarkProcessed(ctx context.Context, id string, status Status, processedAt time.Time, lastError string) error

	// CountByWorkspaceAndType counts completed events for a workspace and
	// event type since the given time. Used by the metric computer.
	CountByWorkspaceAndType(ctx context.Context, workspaceID, eventType string, since time.Time) (int64, error)

	// FindByWorkspace returns completed events for a workspace since the
	// given time, newest first, bounded by limit.
	FindByWorkspace(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*WebhookEvent, error)
}
