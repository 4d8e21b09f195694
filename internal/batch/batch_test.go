package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.pulsegate.dev/internal/event"
)

// batchRecorder captures flushed batches
type batchRecorder struct {
	mu      sync.Mutex
	batches []*Batch
	err     error
}

func (r *batchRecorder) flush(ctx context.Context, b *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return r.err
}

func (r *batchRecorder) flushed() []*Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Batch{}, r.batches...)
}

func newEvent(workspaceID string) *event.RealtimeEvent {
	return event.NewRealtimeEvent("order.created", workspaceID, nil)
}

func TestSizeTriggerFlushesSynchronously(t *testing.T) {
	rec := &batchRecorder{}
	p := NewProcessor(&Config{MaxBatchSize: 3, MaxWaitTime: time.Hour}, rec.flush)

	for i := 0; i < 3; i++ {
		if err := p.AddEvent(context.Background(), newEvent("ws-1")); err != nil {
			t.Fatalf("AddEvent failed: %v", err)
		}
	}

	// Size-triggered flush completes before AddEvent returns
	flushed := rec.flushed()
	if len(flushed) != 1 {
		t.Fatalf("Expected 1 flushed batch, got %d", len(flushed))
	}
	if len(flushed[0].Events) != 3 {
		t.Errorf("Expected 3 events in batch, got %d", len(flushed[0].Events))
	}
	if flushed[0].Status != BatchCompleted {
		t.Errorf("Expected COMPLETED, got %s", flushed[0].Status)
	}
	if p.OpenBatches() != 0 {
		t.Errorf("Expected no open batches after flush, got %d", p.OpenBatches())
	}
}

func TestTimerTriggerFlush(t *testing.T) {
	rec := &batchRecorder{}
	p := NewProcessor(&Config{MaxBatchSize: 100, MaxWaitTime: 50 * time.Millisecond}, rec.flush)

	if err := p.AddEvent(context.Background(), newEvent("ws-1")); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if err := p.AddEvent(context.Background(), newEvent("ws-1")); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(rec.flushed()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	flushed := rec.flushed()
	if len(flushed) != 1 {
		t.Fatalf("Expected timer flush within the wait window, got %d batches", len(flushed))
	}
	if len(flushed[0].Events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(flushed[0].Events))
	}
}

func TestOneOpenBatchPerWorkspace(t *testing.T) {
	rec := &batchRecorder{}
	p := NewProcessor(&Config{MaxBatchSize: 100, MaxWaitTime: time.Hour}, rec.flush)
	defer p.Shutdown(context.Background())

	p.AddEvent(context.Background(), newEvent("ws-1"))
	p.AddEvent(context.Background(), newEvent("ws-1"))
	p.AddEvent(context.Background(), newEvent("ws-2"))

	if p.OpenBatches() != 2 {
		t.Errorf("Expected 2 open batches (one per workspace), got %d", p.OpenBatches())
	}
}

func TestNewBatchAccumulatesDuringFlush(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var sizes []int

	flushFn := func(ctx context.Context, b *Batch) error {
		mu.Lock()
		sizes = append(sizes, len(b.Events))
		mu.Unlock()
		if len(sizes) == 1 {
			close(started)
			<-release
		}
		return nil
	}

	p := NewProcessor(&Config{MaxBatchSize: 2, MaxWaitTime: time.Hour}, flushFn)

	// Fill the first batch in a goroutine; its flush blocks in flushFn
	go func() {
		p.AddEvent(context.Background(), newEvent("ws-1"))
		p.AddEvent(context.Background(), newEvent("ws-1"))
	}()
	<-started

	// The first batch is already out of the pending map, so a new one opens
	if err := p.AddEvent(context.Background(), newEvent("ws-1")); err != nil {
		t.Fatalf("AddEvent during in-flight flush failed: %v", err)
	}
	if p.OpenBatches() != 1 {
		t.Errorf("Expected a fresh open batch during flush, got %d", p.OpenBatches())
	}
	close(release)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 2 || sizes[1] != 1 {
		t.Errorf("Expected batch sizes [2 1], got %v", sizes)
	}
}

func TestPerWorkspaceEventOrder(t *testing.T) {
	rec := &batchRecorder{}
	p := NewProcessor(&Config{MaxBatchSize: 3, MaxWaitTime: time.Hour}, rec.flush)

	first := newEvent("ws-1")
	second := newEvent("ws-1")
	third := newEvent("ws-1")
	p.AddEvent(context.Background(), first)
	p.AddEvent(context.Background(), second)
	p.AddEvent(context.Background(), third)

	flushed := rec.flushed()
	if len(flushed) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(flushed))
	}
	got := flushed[0].Events
	if got[0].ID != first.ID || got[1].ID != second.ID || got[2].ID != third.ID {
		t.Error("Expected arrival order preserved within the batch")
	}
}

func TestShutdownDrainsOpenBatches(t *testing.T) {
	rec := &batchRecorder{}
	p := NewProcessor(&Config{MaxBatchSize: 100, MaxWaitTime: time.Hour}, rec.flush)

	p.AddEvent(context.Background(), newEvent("ws-1"))
	p.AddEvent(context.Background(), newEvent("ws-2"))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if len(rec.flushed()) != 2 {
		t.Errorf("Expected both open batches flushed on shutdown, got %d", len(rec.flushed()))
	}

	if err := p.AddEvent(context.Background(), newEvent("ws-3")); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown after shutdown, got %v", err)
	}

	// Second shutdown is a no-op
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Repeated shutdown should be a no-op: %v", err)
	}
}

func TestShutdownWaitsForInFlightTimerFlush(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &batchRecorder{}

	flushFn := func(ctx context.Context, b *Batch) error {
		close(started)
		<-release
		return rec.flush(ctx, b)
	}

	p := NewProcessor(&Config{MaxBatchSize: 100, MaxWaitTime: 10 * time.Millisecond}, flushFn)
	p.AddEvent(context.Background(), newEvent("ws-1"))

	// The timer flush has detached the batch and is blocked in the callback;
	// the pending map is already empty
	<-started
	if p.OpenBatches() != 0 {
		t.Fatalf("Expected batch detached before flush, got %d open", p.OpenBatches())
	}

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Shutdown returned while a flush was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(rec.flushed()) != 1 {
		t.Errorf("Expected the in-flight batch flushed before drain completed, got %d", len(rec.flushed()))
	}
}

func TestFlushErrorMarksBatchFailed(t *testing.T) {
	rec := &batchRecorder{err: errors.New("downstream unavailable")}
	p := NewProcessor(&Config{MaxBatchSize: 1, MaxWaitTime: time.Hour}, rec.flush)

	p.AddEvent(context.Background(), newEvent("ws-1"))

	flushed := rec.flushed()
	if len(flushed) != 1 {
		t.Fatalf("Expected 1 flush attempt, got %d", len(flushed))
	}
	if flushed[0].Status != BatchFailed {
		t.Errorf("Expected FAILED, got %s", flushed[0].Status)
	}
}
