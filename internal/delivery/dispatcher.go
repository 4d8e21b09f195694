package delivery

import (
	"context"
	"log/slog"
)

// Dispatcher fans an event payload out to every matching endpoint.
// Each endpoint gets its own delivery record; the first attempt runs
// immediately and failures fall to the retry scheduler.
type Dispatcher struct {
	service    *Service
	endpoints  EndpointRepository
	deliveries DeliveryRepository
}

// NewDispatcher creates a dispatcher
func NewDispatcher(service *Service, endpoints EndpointRepository, deliveries DeliveryRepository) *Dispatcher {
	return &Dispatcher{
		service:    service,
		endpoints:  endpoints,
		deliveries: deliveries,
	}
}

// Dispatch creates and attempts a delivery per subscribed endpoint.
// Returns the created deliveries; per-endpoint failures are recorded on
// the delivery, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, workspaceID, eventType string, payload []byte) ([]*WebhookDelivery, error) {
	endpoints, err := d.endpoints.FindActiveByEvent(ctx, workspaceID, eventType)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, nil
	}

	created := make([]*WebhookDelivery, 0, len(endpoints))
	for _, endpoint := range endpoints {
		dlv := NewDelivery(endpoint.ID, eventType, payload)
		if err := d.deliveries.Insert(ctx, dlv); err != nil {
			slog.Error("Failed to create delivery record",
				"endpointId", endpoint.ID,
				"eventType", eventType,
				"error", err)
			continue
		}

		if err := d.service.ProcessDelivery(ctx, endpoint, dlv, d.deliveries.Update); err != nil {
			slog.Error("Failed to persist delivery state",
				"deliveryId", dlv.ID,
				"error", err)
		}
		created = append(created, dlv)
	}
	return created, nil
}
