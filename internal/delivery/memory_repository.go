package delivery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryEndpointRepository implements EndpointRepository in memory
type MemoryEndpointRepository struct {
	mu        sync.RWMutex
	endpoints map[string]*WebhookEndpoint
}

// NewMemoryEndpointRepository creates an in-memory endpoint repository
func NewMemoryEndpointRepository() *MemoryEndpointRepository {
	return &MemoryEndpointRepository{endpoints: make(map[string]*WebhookEndpoint)}
}

// Insert persists a new endpoint
func (r *MemoryEndpointRepository) Insert(ctx context.Context, e *WebhookEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *e
	r.endpoints[e.ID] = &copied
	return nil
}

// FindByID looks up an endpoint
func (r *MemoryEndpointRepository) FindByID(ctx context.Context, id string) (*WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	copied := *e
	return &copied, nil
}

// FindActiveByEvent returns active endpoints subscribed to the event type
func (r *MemoryEndpointRepository) FindActiveByEvent(ctx context.Context, workspaceID, eventType string) ([]*WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*WebhookEndpoint, 0)
	for _, e := range r.endpoints {
		if e.WorkspaceID != workspaceID || !e.IsActive || !e.SubscribesTo(eventType) {
			continue
		}
		copied := *e
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

// Update replaces a stored endpoint
func (r *MemoryEndpointRepository) Update(ctx context.Context, e *WebhookEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[e.ID]; !ok {
		return ErrEndpointNotFound
	}
	copied := *e
	r.endpoints[e.ID] = &copied
	return nil
}

// MemoryDeliveryRepository implements DeliveryRepository in memory
type MemoryDeliveryRepository struct {
	mu         sync.RWMutex
	deliveries map[string]*WebhookDelivery
}

// NewMemoryDeliveryRepository creates an in-memory delivery repository
func NewMemoryDeliveryRepository() *MemoryDeliveryRepository {
	return &MemoryDeliveryRepository{deliveries: make(map[string]*WebhookDelivery)}
}

// Insert persists a new delivery
func (r *MemoryDeliveryRepository) Insert(ctx context.Context, d *WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *d
	r.deliveries[d.ID] = &copied
	return nil
}

// FindByID looks up a delivery
func (r *MemoryDeliveryRepository) FindByID(ctx context.Context, id string) (*WebhookDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	copied := *d
	return &copied, nil
}

// Update replaces a stored delivery
func (r *MemoryDeliveryRepository) Update(ctx context.Context, d *WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	copied := *d
	r.deliveries[d.ID] = &copied
	return nil
}

// FindDue returns retrying deliveries whose nextRetryAt has passed
func (r *MemoryDeliveryRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	due := make([]*WebhookDelivery, 0)
	for _, d := range r.deliveries {
		if d.Status != StatusRetrying || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		copied := *d
		due = append(due, &copied)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CountPending counts deliveries not yet in a terminal status
func (r *MemoryDeliveryRepository) CountPending(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, d := range r.deliveries {
		if !d.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}
