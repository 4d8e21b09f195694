package metricsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.pulsegate.dev/internal/event"
)

// Well-known metric names
const (
	MetricRevenue   = "revenue"
	MetricOrders    = "orders"
	MetricCustomers = "customers"
)

// AllMetrics lists every metric the default computer knows
var AllMetrics = []string{MetricRevenue, MetricOrders, MetricCustomers}

// Computer computes current metric values for a workspace
type Computer interface {
	// Compute returns the requested metric values. Unknown metric names
	// are omitted from the result rather than treated as errors.
	Compute(ctx context.Context, workspaceID string, metricNames []string) (map[string]float64, error)
}

// EventComputer derives metrics from completed webhook events.
// Revenue sums order totals out of stored payloads; orders and customers
// are plain counts over the window.
type EventComputer struct {
	repo   event.Repository
	window time.Duration
}

// NewEventComputer creates a computer over the event store.
// Window bounds how far back events contribute to a metric.
func NewEventComputer(repo event.Repository, window time.Duration) *EventComputer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &EventComputer{repo: repo, window: window}
}

// Compute returns the requested metric values
func (c *EventComputer) Compute(ctx context.Context, workspaceID string, metricNames []string) (map[string]float64, error) {
	since := time.Now().Add(-c.window)
	values := make(map[string]float64, len(metricNames))

	for _, name := range metricNames {
		switch name {
		case MetricOrders:
			count, err := c.countAny(ctx, workspaceID, since, "orders/create", "checkout.session.completed", "PAYMENT.SALE.COMPLETED")
			if err != nil {
				return nil, fmt.Errorf("compute orders: %w", err)
			}
			values[name] = float64(count)

		case MetricCustomers:
			count, err := c.countAny(ctx, workspaceID, since, "customers/create", "customer.created")
			if err != nil {
				return nil, fmt.Errorf("compute customers: %w", err)
			}
			values[name] = float64(count)

		case MetricRevenue:
			revenue, err := c.sumRevenue(ctx, workspaceID, since)
			if err != nil {
				return nil, fmt.Errorf("compute revenue: %w", err)
			}
			values[name] = revenue
		}
	}

	return values, nil
}

func (c *EventComputer) countAny(ctx context.Context, workspaceID string, since time.Time, eventTypes ...string) (int64, error) {
	var total int64
	for _, et := range eventTypes {
		count, err := c.repo.CountByWorkspaceAndType(ctx, workspaceID, et, since)
		if err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

// sumRevenue walks stored order payloads and sums their totals
func (c *EventComputer) sumRevenue(ctx context.Context, workspaceID string, since time.Time) (float64, error) {
	events, err := c.repo.FindByWorkspace(ctx, workspaceID, since, 10000)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, ev := range events {
		if amount, ok := orderAmount(ev); ok {
			total += amount
		}
	}
	return total, nil
}

// orderAmount extracts a monetary total from a stored payload.
// Providers disagree on shape: Shopify sends total_price as a string,
// Stripe sends amount in minor units, PayPal nests amount.total.
func orderAmount(ev *event.WebhookEvent) (float64, bool) {
	var payload map[string]any
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return 0, false
	}

	switch ev.Provider {
	case "shopify":
		if ev.EventType != "orders/create" {
			return 0, false
		}
		return parseAmount(payload["total_price"])

	case "stripe":
		if ev.EventType != "payment_intent.succeeded" {
			return 0, false
		}
		data, _ := payload["data"].(map[string]any)
		obj, _ := data["object"].(map[string]any)
		if amount, ok := parseAmount(obj["amount"]); ok {
			return amount / 100, true
		}
		return 0, false

	case "paypal":
		if ev.EventType != "PAYMENT.SALE.COMPLETED" {
			return 0, false
		}
		resource, _ := payload["resource"].(map[string]any)
		amount, _ := resource["amount"].(map[string]any)
		return parseAmount(amount["total"])
	}

	return 0, false
}

func parseAmount(v any) (float64, bool) {
	switch amount := v.(type) {
	case float64:
		return amount, true
	case string:
		parsed, err := strconv.ParseFloat(amount, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case json.Number:
		parsed, err := amount.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}
