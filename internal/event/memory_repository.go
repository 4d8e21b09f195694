package event

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository implements Repository in memory.
// Used in tests and dev mode; mirrors the Mongo unique-index semantics.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*WebhookEvent
	byExtKey map[string]string // "provider:externalEventId" -> id
}

// NewMemoryRepository creates an in-memory webhook event repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*WebhookEvent),
		byExtKey: make(map[string]string),
	}
}

func extKey(provider, externalEventID string) string {
	return provider + ":" + externalEventID
}

// Insert persists a new webhook event
func (r *MemoryRepository) Insert(ctx context.Context, ev *WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := extKey(ev.Provider, ev.ExternalEventID)
	if _, exists := r.byExtKey[key]; exists {
		return ErrDuplicateEvent
	}

	copied := *ev
	r.byID[ev.ID] = &copied
	r.byExtKey[key] = ev.ID
	return nil
}

// FindByExternalID looks up an event by its idempotency key
func (r *MemoryRepository) FindByExternalID(ctx context.Context, provider, externalEventID string) (*WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExtKey[extKey(provider, externalEventID)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

// FindByID looks up an event by its ID
func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ev, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

// MarkProcessed transitions the event to a terminal status
func (r *MemoryRepository) MarkProcessed(ctx context.Context, id string, status Status, processedAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}

	ev.Status = status
	ev.ProcessedAt = &processedAt
	ev.Attempts++
	if lastError != "" {
		ev.LastError = lastError
	}
	return nil
}

// CountByWorkspaceAndType counts completed events for the metric computer
func (r *MemoryRepository) CountByWorkspaceAndType(ctx context.Context, workspaceID, eventType string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, ev := range r.byID {
		if ev.WorkspaceID == workspaceID && ev.EventType == eventType &&
			ev.Status == StatusCompleted && !ev.ReceivedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// FindByWorkspace returns completed events for a workspace since the given time
func (r *MemoryRepository) FindByWorkspace(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]*WebhookEvent, 0)
	for _, ev := range r.byID {
		if ev.WorkspaceID == workspaceID && ev.Status == StatusCompleted && !ev.ReceivedAt.Before(since) {
			copied := *ev
			events = append(events, &copied)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.After(events[j].ReceivedAt)
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
