package processor

import (
	"context"
	"fmt"
	"log/slog"

	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/verifier"
)

// stripeEventMap maps Stripe event types to normalized realtime event types
// and the business object they concern.
var stripeEventMap = map[string]struct {
	realtimeType string
	objectType   string
}{
	"payment_intent.succeeded":      {"payment.succeeded", "payment"},
	"payment_intent.payment_failed": {"payment.failed", "payment"},
	"charge.refunded":               {"payment.refunded", "payment"},
	"customer.subscription.created": {"subscription.created", "subscription"},
	"customer.subscription.updated": {"subscription.updated", "subscription"},
	"customer.subscription.deleted": {"subscription.cancelled", "subscription"},
}

// StripeProcessor handles Stripe events
type StripeProcessor struct {
	sync SyncService
}

// NewStripeProcessor creates a Stripe event processor
func NewStripeProcessor(sync SyncService) *StripeProcessor {
	return &StripeProcessor{sync: sync}
}

// Provider returns "stripe"
func (p *StripeProcessor) Provider() string {
	return "stripe"
}

// SupportedEventTypes lists the handled Stripe event types
func (p *StripeProcessor) SupportedEventTypes() []string {
	types := make([]string, 0, len(stripeEventMap))
	for t := range stripeEventMap {
		types = append(types, t)
	}
	return types
}

// ProcessEvent maps a Stripe event to a sync call and a realtime event
func (p *StripeProcessor) ProcessEvent(ctx context.Context, env *verifier.Envelope, workspaceID, connectorID string) (*Outcome, error) {
	mapping, ok := stripeEventMap[env.EventType]
	if !ok {
		slog.Debug("Ignoring unsupported Stripe event type",
			"eventType", env.EventType,
			"workspaceId", workspaceID)
		return &Outcome{Success: true, Action: ActionIgnored}, nil
	}

	object := stripeObject(env.Data)
	objectID, _ := object["id"].(string)
	if objectID == "" {
		return nil, fmt.Errorf("stripe event %s missing object id", env.ExternalEventID)
	}

	if err := p.sync.SyncObject(ctx, workspaceID, connectorID, mapping.objectType, objectID, object); err != nil {
		return nil, fmt.Errorf("sync %s %s: %w", mapping.objectType, objectID, err)
	}

	rt := event.NewRealtimeEvent(mapping.realtimeType, workspaceID, map[string]any{
		"provider":   "stripe",
		"objectType": mapping.objectType,
		"objectId":   objectID,
		"amount":     object["amount"],
		"currency":   object["currency"],
	})
	rt.ConnectorID = connectorID

	return &Outcome{
		Success:   true,
		EventType: mapping.realtimeType,
		ObjectID:  objectID,
		Action:    ActionProcessed,
		Event:     rt,
	}, nil
}

// stripeObject unwraps data.object from the Stripe payload
func stripeObject(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	if object, ok := data["object"].(map[string]any); ok {
		return object
	}
	return data
}
