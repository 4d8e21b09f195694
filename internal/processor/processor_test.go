package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.pulsegate.dev/internal/verifier"
)

// MockSyncService records sync calls and can fail on demand
type MockSyncService struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *MockSyncService) SyncObject(ctx context.Context, workspaceID, connectorID, objectType, objectID string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, objectType+":"+objectID)
	return m.err
}

func (m *MockSyncService) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func TestShopifyOrderCreate(t *testing.T) {
	syncSvc := &MockSyncService{}
	p := NewShopifyProcessor(syncSvc)

	env := &verifier.Envelope{
		ExternalEventID: "wh-1",
		EventType:       "orders/create",
		AccountID:       "test-store.myshopify.com",
		Data:            map[string]any{"id": float64(450789469), "total_price": "500.00", "currency": "USD"},
	}

	outcome, err := p.ProcessEvent(context.Background(), env, "ws-1", "conn-1")
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if !outcome.Success || outcome.Action != ActionProcessed {
		t.Errorf("Expected processed outcome, got %+v", outcome)
	}
	if outcome.EventType != "order.created" {
		t.Errorf("Expected order.created, got %s", outcome.EventType)
	}
	if outcome.ObjectID != "450789469" {
		t.Errorf("Expected numeric id as string, got %s", outcome.ObjectID)
	}

	if outcome.Event == nil {
		t.Fatal("Expected realtime event on the outcome")
	}
	if outcome.Event.Type != "order.created" || outcome.Event.WorkspaceID != "ws-1" {
		t.Errorf("Unexpected realtime event: %+v", outcome.Event)
	}
	if outcome.Event.ConnectorID != "conn-1" {
		t.Errorf("Expected connector id on event, got %s", outcome.Event.ConnectorID)
	}
	if outcome.Event.Data["totalPrice"] != "500.00" {
		t.Errorf("Expected totalPrice in event data, got %v", outcome.Event.Data)
	}

	calls := syncSvc.Calls()
	if len(calls) != 1 || calls[0] != "order:450789469" {
		t.Errorf("Expected one sync call for the order, got %v", calls)
	}
}

func TestShopifyUnknownTopicIgnored(t *testing.T) {
	p := NewShopifyProcessor(&MockSyncService{})

	env := &verifier.Envelope{
		ExternalEventID: "wh-2",
		EventType:       "fulfillments/create",
		Data:            map[string]any{"id": float64(1)},
	}

	outcome, err := p.ProcessEvent(context.Background(), env, "ws-1", "conn-1")
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if !outcome.Success || outcome.Action != ActionIgnored {
		t.Errorf("Unknown topics must be acknowledged as ignored, got %+v", outcome)
	}
	if outcome.Event != nil {
		t.Error("Ignored events must not produce realtime events")
	}
}

func TestStripePaymentSucceeded(t *testing.T) {
	syncSvc := &MockSyncService{}
	p := NewStripeProcessor(syncSvc)

	env := &verifier.Envelope{
		ExternalEventID: "evt_1",
		EventType:       "payment_intent.succeeded",
		Data: map[string]any{
			"object": map[string]any{"id": "pi_123", "amount": float64(5000), "currency": "usd"},
		},
	}

	outcome, err := p.ProcessEvent(context.Background(), env, "ws-1", "conn-1")
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if outcome.EventType != "payment.succeeded" || outcome.ObjectID != "pi_123" {
		t.Errorf("Unexpected outcome: %+v", outcome)
	}

	if outcome.Event == nil || outcome.Event.Data["amount"] != float64(5000) {
		t.Errorf("Expected amount carried into realtime event, got %+v", outcome.Event)
	}
}

func TestStripeSyncFailurePropagates(t *testing.T) {
	syncSvc := &MockSyncService{err: errors.New("sync unavailable")}
	p := NewStripeProcessor(syncSvc)

	env := &verifier.Envelope{
		ExternalEventID: "evt_1",
		EventType:       "charge.refunded",
		Data:            map[string]any{"object": map[string]any{"id": "ch_1"}},
	}

	if _, err := p.ProcessEvent(context.Background(), env, "ws-1", "conn-1"); err == nil {
		t.Fatal("Expected sync failure to propagate")
	}
}

func TestStripeMissingObjectID(t *testing.T) {
	p := NewStripeProcessor(&MockSyncService{})
	env := &verifier.Envelope{
		ExternalEventID: "evt_1",
		EventType:       "payment_intent.succeeded",
		Data:            map[string]any{"object": map[string]any{}},
	}

	if _, err := p.ProcessEvent(context.Background(), env, "ws-1", "conn-1"); err == nil {
		t.Fatal("Expected error for missing object id")
	}
}

func TestPayPalSaleCompleted(t *testing.T) {
	p := NewPayPalProcessor(&MockSyncService{})

	env := &verifier.Envelope{
		ExternalEventID: "WH-1",
		EventType:       "PAYMENT.SALE.COMPLETED",
		Data:            map[string]any{"id": "SALE-1", "merchant_id": "M1", "amount": map[string]any{"total": "10.00"}},
	}

	outcome, err := p.ProcessEvent(context.Background(), env, "ws-1", "conn-1")
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if outcome.EventType != "payment.succeeded" || outcome.ObjectID != "SALE-1" {
		t.Errorf("Unexpected outcome: %+v", outcome)
	}
	if outcome.Event == nil || outcome.Event.Type != "payment.succeeded" {
		t.Errorf("Expected payment.succeeded realtime event, got %+v", outcome.Event)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(
		NewStripeProcessor(NoopSyncService{}),
		NewShopifyProcessor(NoopSyncService{}),
	)

	if _, ok := r.Lookup("shopify"); !ok {
		t.Error("Expected shopify processor registered")
	}
	if _, ok := r.Lookup("paypal"); ok {
		t.Error("Expected paypal to be absent")
	}
}

func TestSupportedEventTypes(t *testing.T) {
	p := NewShopifyProcessor(NoopSyncService{})
	types := p.SupportedEventTypes()
	if len(types) != 4 {
		t.Errorf("Expected 4 supported topics, got %d", len(types))
	}
	found := false
	for _, tp := range types {
		if tp == "orders/create" {
			found = true
		}
	}
	if !found {
		t.Error("Expected orders/create in supported topics")
	}
}
