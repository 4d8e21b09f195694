package anomaly

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository implements Repository in memory, for development and tests
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRepository creates an in-memory anomaly repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*Record)}
}

// Insert persists a new anomaly record
func (r *MemoryRepository) Insert(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *rec
	r.records[rec.ID] = &copied
	return nil
}

// FindByID looks up a record by its ID
func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// FindByWorkspace returns records for a workspace since the given time
func (r *MemoryRepository) FindByWorkspace(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Record, 0)
	for _, rec := range r.records {
		if rec.WorkspaceID != workspaceID || rec.DetectedAt.Before(since) {
			continue
		}
		copied := *rec
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
