package processor

import (
	"context"
	"fmt"
	"log/slog"

	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/verifier"
)

// shopifyEventMap maps Shopify webhook topics to normalized realtime event
// types and the business object they concern.
var shopifyEventMap = map[string]struct {
	realtimeType string
	objectType   string
}{
	"orders/create":    {"order.created", "order"},
	"orders/updated":   {"order.updated", "order"},
	"orders/cancelled": {"order.cancelled", "order"},
	"customers/create": {"customer.created", "customer"},
}

// ShopifyProcessor handles Shopify events
type ShopifyProcessor struct {
	sync SyncService
}

// NewShopifyProcessor creates a Shopify event processor
func NewShopifyProcessor(sync SyncService) *ShopifyProcessor {
	return &ShopifyProcessor{sync: sync}
}

// Provider returns "shopify"
func (p *ShopifyProcessor) Provider() string {
	return "shopify"
}

// SupportedEventTypes lists the handled Shopify topics
func (p *ShopifyProcessor) SupportedEventTypes() []string {
	types := make([]string, 0, len(shopifyEventMap))
	for t := range shopifyEventMap {
		types = append(types, t)
	}
	return types
}

// ProcessEvent maps a Shopify topic to a sync call and a realtime event
func (p *ShopifyProcessor) ProcessEvent(ctx context.Context, env *verifier.Envelope, workspaceID, connectorID string) (*Outcome, error) {
	mapping, ok := shopifyEventMap[env.EventType]
	if !ok {
		slog.Debug("Ignoring unsupported Shopify topic",
			"topic", env.EventType,
			"workspaceId", workspaceID)
		return &Outcome{Success: true, Action: ActionIgnored}, nil
	}

	objectID := shopifyObjectID(env.Data)
	if objectID == "" {
		return nil, fmt.Errorf("shopify event %s missing object id", env.ExternalEventID)
	}

	if err := p.sync.SyncObject(ctx, workspaceID, connectorID, mapping.objectType, objectID, env.Data); err != nil {
		return nil, fmt.Errorf("sync %s %s: %w", mapping.objectType, objectID, err)
	}

	rt := event.NewRealtimeEvent(mapping.realtimeType, workspaceID, map[string]any{
		"provider":   "shopify",
		"objectType": mapping.objectType,
		"objectId":   objectID,
		"totalPrice": env.Data["total_price"],
		"currency":   env.Data["currency"],
		"shopDomain": env.AccountID,
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

// shopifyObjectID extracts the numeric object id from the payload.
// Shopify sends ids as JSON numbers.
func shopifyObjectID(data map[string]any) string {
	switch id := data["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}
