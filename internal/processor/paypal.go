package processor

import (
	"context"
	"fmt"
	"log/slog"

	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/verifier"
)

// paypalEventMap maps PayPal event types to normalized realtime event types
// and the business object they concern.
var paypalEventMap = map[string]struct {
	realtimeType string
	objectType   string
}{
	"PAYMENT.SALE.COMPLETED":         {"payment.succeeded", "payment"},
	"PAYMENT.SALE.REFUNDED":          {"payment.refunded", "payment"},
	"BILLING.SUBSCRIPTION.CREATED":   {"subscription.created", "subscription"},
	"BILLING.SUBSCRIPTION.CANCELLED": {"subscription.cancelled", "subscription"},
}

// PayPalProcessor handles PayPal events
type PayPalProcessor struct {
	sync SyncService
}

// NewPayPalProcessor creates a PayPal event processor
func NewPayPalProcessor(sync SyncService) *PayPalProcessor {
	return &PayPalProcessor{sync: sync}
}

// Provider returns "paypal"
func (p *PayPalProcessor) Provider() string {
	return "paypal"
}

// SupportedEventTypes lists the handled PayPal event types
func (p *PayPalProcessor) SupportedEventTypes() []string {
	types := make([]string, 0, len(paypalEventMap))
	for t := range paypalEventMap {
		types = append(types, t)
	}
	return types
}

// ProcessEvent maps a PayPal event to a sync call and a realtime event
func (p *PayPalProcessor) ProcessEvent(ctx context.Context, env *verifier.Envelope, workspaceID, connectorID string) (*Outcome, error) {
	mapping, ok := paypalEventMap[env.EventType]
	if !ok {
		slog.Debug("Ignoring unsupported PayPal event type",
			"eventType", env.EventType,
			"workspaceId", workspaceID)
		return &Outcome{Success: true, Action: ActionIgnored}, nil
	}

	objectID, _ := env.Data["id"].(string)
	if objectID == "" {
		return nil, fmt.Errorf("paypal event %s missing resource id", env.ExternalEventID)
	}

	if err := p.sync.SyncObject(ctx, workspaceID, connectorID, mapping.objectType, objectID, env.Data); err != nil {
		return nil, fmt.Errorf("sync %s %s: %w", mapping.objectType, objectID, err)
	}

	rt := event.NewRealtimeEvent(mapping.realtimeType, workspaceID, map[string]any{
		"provider":   "paypal",
		"objectType": mapping.objectType,
		"objectId":   objectID,
		"amount":     env.Data["amount"],
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
