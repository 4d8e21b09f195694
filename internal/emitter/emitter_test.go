package emitter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"go.pulsegate.dev/internal/event"
)

func TestEmitTypeScoped(t *testing.T) {
	e := New()
	var matched, other atomic.Int32

	e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		matched.Add(1)
	})
	e.Subscribe("order.cancelled", func(ctx context.Context, ev *event.RealtimeEvent) {
		other.Add(1)
	})

	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-1", nil))

	if matched.Load() != 1 {
		t.Errorf("Expected matching subscriber called once, got %d", matched.Load())
	}
	if other.Load() != 0 {
		t.Errorf("Expected non-matching subscriber not called, got %d", other.Load())
	}
}

func TestEmitWildcard(t *testing.T) {
	e := New()
	var count atomic.Int32

	e.Subscribe(Wildcard, func(ctx context.Context, ev *event.RealtimeEvent) {
		count.Add(1)
	})

	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-1", nil))
	e.Emit(context.Background(), event.NewRealtimeEvent("metrics.updated", "ws-2", nil))

	if count.Load() != 2 {
		t.Errorf("Expected wildcard subscriber called twice, got %d", count.Load())
	}
}

func TestEmitWorkspaceFilter(t *testing.T) {
	e := New()
	var ws1, all atomic.Int32

	e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		ws1.Add(1)
	}, WithWorkspace("ws-1"))
	e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		all.Add(1)
	})

	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-1", nil))
	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-2", nil))

	if ws1.Load() != 1 {
		t.Errorf("Expected workspace-filtered subscriber called once, got %d", ws1.Load())
	}
	if all.Load() != 2 {
		t.Errorf("Expected unfiltered subscriber called twice, got %d", all.Load())
	}
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	e := New()
	var survived atomic.Int32

	e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		panic("subscriber bug")
	})
	e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		survived.Add(1)
	})

	// Must not panic the caller
	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-1", nil))

	if survived.Load() != 1 {
		t.Errorf("Expected sibling subscriber to run despite panic, got %d", survived.Load())
	}
}

func TestUnsubscribe(t *testing.T) {
	e := New()
	var count atomic.Int32

	sub := e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		count.Add(1)
	})

	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-1", nil))
	sub.Unsubscribe()
	e.Emit(context.Background(), event.NewRealtimeEvent("order.created", "ws-1", nil))

	if count.Load() != 1 {
		t.Errorf("Expected no delivery after unsubscribe, got %d calls", count.Load())
	}
	if e.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", e.SubscriptionCount())
	}

	// Double unsubscribe is a no-op
	sub.Unsubscribe()
}

func TestPerSubscriberOrdering(t *testing.T) {
	e := New()
	var mu sync.Mutex
	var order []string

	e.Subscribe("order.created", func(ctx context.Context, ev *event.RealtimeEvent) {
		mu.Lock()
		order = append(order, ev.ID)
		mu.Unlock()
	})

	first := event.NewRealtimeEvent("order.created", "ws-1", nil)
	second := event.NewRealtimeEvent("order.created", "ws-1", nil)
	e.Emit(context.Background(), first)
	e.Emit(context.Background(), second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != first.ID || order[1] != second.ID {
		t.Errorf("Expected emit-order delivery within a subscriber, got %v", order)
	}
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	e := New()
	var count atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := e.Subscribe("x", func(ctx context.Context, ev *event.RealtimeEvent) {
				count.Add(1)
			})
			sub.Unsubscribe()
		}()
		go func() {
			defer wg.Done()
			e.Emit(context.Background(), event.NewRealtimeEvent("x", "ws-1", nil))
		}()
	}
	wg.Wait()
	// No assertion beyond absence of data races and panics
}
