// Package emitter distributes realtime events to in-process subscribers.
//
// Subscribers register for a single event type or the wildcard "*", with an
// optional workspace filter. Emit runs all matching callbacks concurrently
// and waits for them; a panicking subscriber is recovered and logged and
// never prevents siblings from running. Within one subscriber, events are
// observed in emit order because Emit does not return until every callback
// has completed.
package emitter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"go.pulsegate.dev/internal/common/metrics"
	"go.pulsegate.dev/internal/event"
)

// Wildcard subscribes to every event type
const Wildcard = "*"

// Callback handles one realtime event
type Callback func(ctx context.Context, ev *event.RealtimeEvent)

// Subscription is a handle to an active subscription
type Subscription struct {
	id          string
	eventType   string
	workspaceID string
	callback    Callback
	emitter     *Emitter
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.emitter.remove(s)
}

// Option configures a subscription
type Option func(*Subscription)

// WithWorkspace filters the subscription to a single workspace
func WithWorkspace(workspaceID string) Option {
	return func(s *Subscription) {
		s.workspaceID = workspaceID
	}
}

// Emitter is the in-process realtime event bus
type Emitter struct {
	mu     sync.RWMutex
	byType map[string][]*Subscription
}

// New creates a new emitter
func New() *Emitter {
	return &Emitter{
		byType: make(map[string][]*Subscription),
	}
}

// Subscribe registers a callback for an event type (or Wildcard)
func (e *Emitter) Subscribe(eventType string, callback Callback, opts ...Option) *Subscription {
	sub := &Subscription{
		id:        uuid.New().String(),
		eventType: eventType,
		callback:  callback,
		emitter:   e,
	}
	for _, opt := range opts {
		opt(sub)
	}

	e.mu.Lock()
	e.byType[eventType] = append(e.byType[eventType], sub)
	e.mu.Unlock()

	metrics.EmitterActiveSubscriptions.Inc()
	return sub
}

// remove deletes a subscription from the emitter
func (e *Emitter) remove(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.byType[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			e.byType[sub.eventType] = append(subs[:i], subs[i+1:]...)
			metrics.EmitterActiveSubscriptions.Dec()
			return
		}
	}
}

// Emit delivers the event to all matching subscribers and waits for them.
// Callbacks run concurrently across subscribers; failures are isolated.
func (e *Emitter) Emit(ctx context.Context, ev *event.RealtimeEvent) {
	if ev == nil {
		return
	}

	e.mu.RLock()
	matching := make([]*Subscription, 0, len(e.byType[ev.Type])+len(e.byType[Wildcard]))
	for _, sub := range e.byType[ev.Type] {
		if sub.workspaceID == "" || sub.workspaceID == ev.WorkspaceID {
			matching = append(matching, sub)
		}
	}
	for _, sub := range e.byType[Wildcard] {
		if sub.workspaceID == "" || sub.workspaceID == ev.WorkspaceID {
			matching = append(matching, sub)
		}
	}
	e.mu.RUnlock()

	metrics.EmitterEventsEmitted.WithLabelValues(ev.Type).Inc()

	if len(matching) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range matching {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					metrics.EmitterSubscriberPanics.Inc()
					slog.Error("Subscriber panicked",
						"eventType", ev.Type,
						"eventId", ev.ID,
						"workspaceId", ev.WorkspaceID,
						"panic", r)
				}
			}()
			sub.callback(ctx, ev)
		}(sub)
	}
	wg.Wait()
}

// SubscriptionCount returns the number of active subscriptions
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, subs := range e.byType {
		count += len(subs)
	}
	return count
}
