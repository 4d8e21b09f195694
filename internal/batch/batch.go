// Package batch accumulates realtime events per workspace and flushes them
// as a unit when a size or time threshold is reached.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.pulsegate.dev/internal/common/metrics"
	"go.pulsegate.dev/internal/event"
)

// ErrShutdown is returned by AddEvent after Shutdown has begun
var ErrShutdown = errors.New("batch processor is shut down")

// BatchStatus represents the lifecycle of a batch
type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchFailed     BatchStatus = "FAILED"
)

// Batch is a unit of events for one workspace
type Batch struct {
	ID          string
	WorkspaceID string
	Events      []*event.RealtimeEvent
	Status      BatchStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// FlushFunc handles a flushed batch
type FlushFunc func(ctx context.Context, b *Batch) error

// Config holds batch processor configuration
type Config struct {
	// MaxBatchSize triggers an immediate flush when reached
	MaxBatchSize int

	// MaxWaitTime bounds how long the first event of a batch waits
	MaxWaitTime time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxBatchSize: 100,
		MaxWaitTime:  5 * time.Second,
	}
}

// pendingBatch pairs an open batch with its armed flush timer
type pendingBatch struct {
	batch *Batch
	timer *time.Timer
}

// Processor accumulates events per workspace and flushes on size or timer.
// A batch is removed from the pending map before its flush callback runs,
// so a new batch can begin accumulating while the flush is in flight.
type Processor struct {
	config  *Config
	flushFn FlushFunc

	mu      sync.Mutex
	pending map[string]*pendingBatch
	closed  bool

	// wg tracks in-flight flush callbacks for drain-on-exit
	wg sync.WaitGroup
}

// NewProcessor creates a batch processor
func NewProcessor(config *Config, flushFn FlushFunc) *Processor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Processor{
		config:  config,
		flushFn: flushFn,
		pending: make(map[string]*pendingBatch),
	}
}

// AddEvent appends an event to the workspace's open batch, creating one and
// arming its flush timer if none exists. Reaching MaxBatchSize flushes
// synchronously before returning.
func (p *Processor) AddEvent(ctx context.Context, ev *event.RealtimeEvent) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}

	pb, ok := p.pending[ev.WorkspaceID]
	if !ok {
		pb = &pendingBatch{
			batch: &Batch{
				ID:          uuid.New().String(),
				WorkspaceID: ev.WorkspaceID,
				Events:      make([]*event.RealtimeEvent, 0, p.config.MaxBatchSize),
				Status:      BatchPending,
				CreatedAt:   time.Now(),
			},
		}
		workspaceID := ev.WorkspaceID
		pb.timer = time.AfterFunc(p.config.MaxWaitTime, func() {
			p.flushWorkspace(workspaceID, "timer")
		})
		p.pending[ev.WorkspaceID] = pb
		metrics.BatchOpenBatches.Set(float64(len(p.pending)))
	}

	pb.batch.Events = append(pb.batch.Events, ev)

	if len(pb.batch.Events) >= p.config.MaxBatchSize {
		detached := p.detachLocked(ev.WorkspaceID)
		p.mu.Unlock()
		if detached != nil {
			p.runFlush(context.WithoutCancel(ctx), detached, "size")
		}
		return nil
	}

	p.mu.Unlock()
	return nil
}

// detachLocked removes the workspace's batch from the pending map and stops
// its timer. Caller must hold p.mu and must pass every non-nil result to
// runFlush: the in-flight flush is registered with wg here, while the lock
// still guards against Shutdown observing an empty pending map and a zero
// WaitGroup between detach and flush.
func (p *Processor) detachLocked(workspaceID string) *Batch {
	pb, ok := p.pending[workspaceID]
	if !ok {
		return nil
	}
	delete(p.pending, workspaceID)
	pb.timer.Stop()
	metrics.BatchOpenBatches.Set(float64(len(p.pending)))
	p.wg.Add(1)
	return pb.batch
}

// flushWorkspace flushes the open batch for a workspace, if any
func (p *Processor) flushWorkspace(workspaceID, trigger string) {
	p.mu.Lock()
	b := p.detachLocked(workspaceID)
	p.mu.Unlock()

	if b == nil {
		return
	}
	p.runFlush(context.Background(), b, trigger)
}

// runFlush invokes the flush callback and records the outcome. The caller
// obtained b from detachLocked, which already registered it with wg.
func (p *Processor) runFlush(ctx context.Context, b *Batch, trigger string) {
	defer p.wg.Done()

	b.Status = BatchProcessing
	metrics.BatchFlushes.WithLabelValues(trigger).Inc()
	metrics.BatchSize.Observe(float64(len(b.Events)))

	err := p.flushFn(ctx, b)
	now := time.Now()
	b.ProcessedAt = &now

	if err != nil {
		b.Status = BatchFailed
		slog.Error("Batch flush failed",
			"batchId", b.ID,
			"workspaceId", b.WorkspaceID,
			"events", len(b.Events),
			"trigger", trigger,
			"error", err)
		return
	}

	b.Status = BatchCompleted
	slog.Debug("Batch flushed",
		"batchId", b.ID,
		"workspaceId", b.WorkspaceID,
		"events", len(b.Events),
		"trigger", trigger)
}

// OpenBatches returns the number of currently accumulating batches
func (p *Processor) OpenBatches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Shutdown cancels all timers, flushes all open batches and waits for
// in-flight flushes to complete.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	remaining := make([]*Batch, 0, len(p.pending))
	for workspaceID := range p.pending {
		if b := p.detachLocked(workspaceID); b != nil {
			remaining = append(remaining, b)
		}
	}
	p.mu.Unlock()

	for _, b := range remaining {
		p.runFlush(ctx, b, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Batch processor drained", "flushedBatches", len(remaining))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("batch processor drain interrupted: %w", ctx.Err())
	}
}
