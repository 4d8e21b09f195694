package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.pulsegate.dev/internal/common/secrets"
	"go.pulsegate.dev/internal/emitter"
	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/processor"
	"go.pulsegate.dev/internal/verifier"
)

const shopifySecret = "shpss_test_secret"

// testPipeline wires a gateway over in-memory parts
type testPipeline struct {
	gateway *Service
	events  *event.MemoryRepository
	bus     *emitter.Emitter
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	bus := emitter.New()
	events := event.NewMemoryRepository()

	connectors := NewMemoryConnectorResolver()
	connectors.Add(&Connector{ID: "con-1", WorkspaceID: "ws-1", Provider: "shopify", IsActive: true})
	connectors.Add(&Connector{ID: "con-2", WorkspaceID: "ws-1", Provider: "stripe", IsActive: true})

	provider := secrets.NewStaticProvider(map[string]string{
		secrets.SigningSecretKey("shopify"): shopifySecret,
		secrets.SigningSecretKey("stripe"):  "whsec_stripe",
	})

	verifiers := verifier.NewRegistry(
		verifier.NewShopifyVerifier(),
		verifier.NewStripeVerifier(),
	)
	processors := processor.NewRegistry(
		processor.NewShopifyProcessor(processor.NoopSyncService{}),
		processor.NewStripeProcessor(processor.NoopSyncService{}),
	)

	return &testPipeline{
		gateway: NewService(verifiers, processors, events, connectors, provider, bus),
		events:  events,
		bus:     bus,
	}
}

// collectEvents subscribes to one event type and returns a getter for the
// events observed so far. Emission is detached from the response path, so
// assertions poll through waitFor.
func collectEvents(bus *emitter.Emitter, eventType string) func() []*event.RealtimeEvent {
	var mu sync.Mutex
	var received []*event.RealtimeEvent
	bus.Subscribe(eventType, func(ctx context.Context, ev *event.RealtimeEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
	})
	return func() []*event.RealtimeEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]*event.RealtimeEvent{}, received...)
	}
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// shopifyRequest builds a signed Shopify webhook request
func shopifyRequest(body []byte, webhookID, topic string) http.Header {
	mac := hmac.New(sha256.New, []byte(shopifySecret))
	mac.Write(body)

	h := http.Header{}
	h.Set("X-Shopify-Hmac-Sha256", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	h.Set("X-Shopify-Webhook-Id", webhookID)
	h.Set("X-Shopify-Topic", topic)
	h.Set("X-Shopify-Shop-Domain", "test-shop.myshopify.com")
	return h
}

func TestUnknownProviderRejected(t *testing.T) {
	p := newTestPipeline(t)

	result := p.gateway.Handle(context.Background(), "unknown", []byte(`{}`), http.Header{})
	if result.Status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", result.Status)
	}
	if !errors.Is(result.Err, ErrUnsupportedProvider) {
		t.Errorf("Expected ErrUnsupportedProvider, got %v", result.Err)
	}
}

func TestMissingSignatureRejected(t *testing.T) {
	p := newTestPipeline(t)

	result := p.gateway.Handle(context.Background(), "shopify", []byte(`{}`), http.Header{})
	if result.Status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", result.Status)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	p := newTestPipeline(t)

	body := []byte(`{"id": 820982911946154508}`)
	headers := shopifyRequest(body, "wh-1", "orders/create")

	// Mutate the body after signing
	tampered := append([]byte{}, body...)
	tampered[2] ^= 0x01

	result := p.gateway.Handle(context.Background(), "shopify", tampered, headers)
	if result.Status != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", result.Status)
	}

	// Nothing was persisted
	if _, err := p.events.FindByExternalID(context.Background(), "shopify", "wh-1"); !errors.Is(err, event.ErrNotFound) {
		t.Error("Expected no event persisted for rejected webhook")
	}
}

func TestShopifyOrderEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	orders := collectEvents(p.bus, "order.created")

	body := []byte(`{"id": 820982911946154508, "total_price": "254.98", "currency": "USD"}`)
	headers := shopifyRequest(body, "wh-order-1", "orders/create")

	result := p.gateway.Handle(context.Background(), "shopify", body, headers)

	if result.Status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (err %v)", result.Status, result.Err)
	}
	if result.Action != ActionProcessed {
		t.Errorf("Expected processed, got %s", result.Action)
	}

	stored, err := p.events.FindByExternalID(context.Background(), "shopify", "wh-order-1")
	if err != nil {
		t.Fatalf("Expected event persisted: %v", err)
	}
	if stored.Status != event.StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", stored.Status)
	}
	if stored.WorkspaceID != "ws-1" {
		t.Errorf("Expected workspace from connector, got %s", stored.WorkspaceID)
	}
	if stored.EventType != "orders/create" {
		t.Errorf("Expected topic recorded, got %s", stored.EventType)
	}

	waitFor(t, func() bool { return len(orders()) == 1 }, "Expected 1 realtime event")
	received := orders()
	if received[0].WorkspaceID != "ws-1" || received[0].ConnectorID != "con-1" {
		t.Errorf("Unexpected event routing: %+v", received[0])
	}
	if received[0].Data["objectId"] != "820982911946154508" {
		t.Errorf("Unexpected object id: %v", received[0].Data["objectId"])
	}
}

func TestResponseNotDelayedBySlowSubscriber(t *testing.T) {
	p := newTestPipeline(t)

	release := make(chan struct{})
	started := make(chan struct{})
	p.bus.Subscribe(emitter.Wildcard, func(ctx context.Context, ev *event.RealtimeEvent) {
		close(started)
		<-release
	})
	defer close(release)

	body := []byte(`{"id": 77, "total_price": "9.99", "currency": "USD"}`)
	headers := shopifyRequest(body, "wh-slow", "orders/create")

	begin := time.Now()
	result := p.gateway.Handle(context.Background(), "shopify", body, headers)
	elapsed := time.Since(begin)

	if result.Status != http.StatusOK || result.Action != ActionProcessed {
		t.Fatalf("Expected processed 200, got %+v", result)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Response path blocked on subscriber fan-out for %s", elapsed)
	}

	// The subscriber does run, detached from the response
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected detached emission to reach the subscriber")
	}
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	p := newTestPipeline(t)

	body := []byte(`{"id": 1001, "total_price": "10.00", "currency": "USD"}`)
	headers := shopifyRequest(body, "wh-dup", "orders/create")

	first := p.gateway.Handle(context.Background(), "shopify", body, headers)
	if first.Status != http.StatusOK || first.Action != ActionProcessed {
		t.Fatalf("Expected first delivery processed, got %+v", first)
	}

	second := p.gateway.Handle(context.Background(), "shopify", body, headers)
	if second.Status != http.StatusOK {
		t.Errorf("Expected 200 for duplicate, got %d", second.Status)
	}
	if second.Action != ActionSkipped {
		t.Errorf("Expected skipped for duplicate, got %s", second.Action)
	}
	if second.EventID != first.EventID {
		t.Errorf("Expected duplicate to reference the original event")
	}

	// Exactly one event exists and it stayed completed
	stored, _ := p.events.FindByExternalID(context.Background(), "shopify", "wh-dup")
	if stored.Attempts != 1 {
		t.Errorf("Expected single processing attempt, got %d", stored.Attempts)
	}
}

func TestNoConnectorPersistsSkipped(t *testing.T) {
	bus := emitter.New()
	events := event.NewMemoryRepository()
	provider := secrets.NewStaticProvider(map[string]string{
		secrets.SigningSecretKey("shopify"): shopifySecret,
	})
	g := NewService(
		verifier.NewRegistry(verifier.NewShopifyVerifier()),
		processor.NewRegistry(processor.NewShopifyProcessor(processor.NoopSyncService{})),
		events,
		NewMemoryConnectorResolver(), // empty: no connectors configured
		provider,
		bus,
	)

	body := []byte(`{"id": 1}`)
	headers := shopifyRequest(body, "wh-nc", "orders/create")

	result := g.Handle(context.Background(), "shopify", body, headers)
	if result.Status != http.StatusOK {
		t.Fatalf("Expected 200 without connector, got %d", result.Status)
	}
	if result.Action != ActionSkipped {
		t.Errorf("Expected skipped, got %s", result.Action)
	}

	stored, err := events.FindByExternalID(context.Background(), "shopify", "wh-nc")
	if err != nil {
		t.Fatalf("Expected skipped event persisted: %v", err)
	}
	if stored.Status != event.StatusSkipped {
		t.Errorf("Expected SKIPPED, got %s", stored.Status)
	}
}

// failingSync always errors
type failingSync struct{}

func (failingSync) SyncObject(ctx context.Context, workspaceID, connectorID, objectType, objectID string, data map[string]any) error {
	return errors.New("sync store unavailable")
}

func TestProcessorFailureRecordsFailed(t *testing.T) {
	bus := emitter.New()
	events := event.NewMemoryRepository()
	connectors := NewMemoryConnectorResolver()
	connectors.Add(&Connector{ID: "con-1", WorkspaceID: "ws-1", Provider: "shopify", IsActive: true})
	provider := secrets.NewStaticProvider(map[string]string{
		secrets.SigningSecretKey("shopify"): shopifySecret,
	})
	g := NewService(
		verifier.NewRegistry(verifier.NewShopifyVerifier()),
		processor.NewRegistry(processor.NewShopifyProcessor(failingSync{})),
		events,
		connectors,
		provider,
		bus,
	)

	body := []byte(`{"id": 7}`)
	headers := shopifyRequest(body, "wh-fail", "orders/create")

	result := g.Handle(context.Background(), "shopify", body, headers)
	if result.Status != http.StatusInternalServerError {
		t.Fatalf("Expected 500 on processing failure, got %d", result.Status)
	}

	stored, _ := events.FindByExternalID(context.Background(), "shopify", "wh-fail")
	if stored.Status != event.StatusFailed {
		t.Errorf("Expected FAILED, got %s", stored.Status)
	}
	if stored.LastError == "" {
		t.Error("Expected lastError recorded")
	}
}

func TestUnsupportedTopicIgnored(t *testing.T) {
	p := newTestPipeline(t)

	body := []byte(`{"id": 5}`)
	headers := shopifyRequest(body, "wh-ignored", "fulfillments/create")

	result := p.gateway.Handle(context.Background(), "shopify", body, headers)
	if result.Status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", result.Status)
	}
	if result.Action != ActionIgnored {
		t.Errorf("Expected ignored, got %s", result.Action)
	}

	stored, _ := p.events.FindByExternalID(context.Background(), "shopify", "wh-ignored")
	if stored.Status != event.StatusCompleted {
		t.Errorf("Expected COMPLETED for ignored topic, got %s", stored.Status)
	}
}

func TestReactionsDetachedFromResponse(t *testing.T) {
	p := newTestPipeline(t)

	started := make(chan struct{})
	p.gateway.AddReaction(func(ctx context.Context, ev *event.WebhookEvent, outcome *processor.Outcome) {
		close(started)
		panic("reaction bug")
	})

	body := []byte(`{"id": 9, "total_price": "1.00", "currency": "USD"}`)
	headers := shopifyRequest(body, "wh-react", "orders/create")

	result := p.gateway.Handle(context.Background(), "shopify", body, headers)
	if result.Status != http.StatusOK {
		t.Fatalf("Expected reaction panic not to affect response, got %d", result.Status)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("Expected reaction to run")
	}
}

func TestConcurrentDuplicatesProcessOnce(t *testing.T) {
	p := newTestPipeline(t)

	body := []byte(`{"id": 42, "total_price": "5.00", "currency": "USD"}`)
	headers := shopifyRequest(body, "wh-race", "orders/create")

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.gateway.Handle(context.Background(), "shopify", body, headers)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		if r.Status != http.StatusOK {
			t.Errorf("Expected all 200, got %d", r.Status)
		}
		if r.Action == ActionProcessed {
			processed++
		}
	}
	if processed != 1 {
		t.Errorf("Expected exactly one delivery processed, got %d", processed)
	}
}
