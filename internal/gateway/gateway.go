// Package gateway is the HTTP-facing entry point for inbound webhooks.
// It orchestrates verification, idempotency, connector lookup, persistence
// and processor dispatch, then kicks off downstream reactions without
// letting them influence the HTTP response.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.pulsegate.dev/internal/common/metrics"
	"go.pulsegate.dev/internal/common/secrets"
	"go.pulsegate.dev/internal/common/tsid"
	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/processor"
	"go.pulsegate.dev/internal/verifier"
)

// ErrUnsupportedProvider - no verifier is registered for the provider
var ErrUnsupportedProvider = errors.New("unsupported webhook provider")

// Actions reported in gateway results
const (
	ActionProcessed = "processed"
	ActionIgnored   = "ignored"
	ActionSkipped   = "skipped"
	ActionFailed    = "failed"
)

// Result is the outcome of handling one inbound webhook
type Result struct {
	// Status is the HTTP status to respond with
	Status int

	// EventID is the stored event's ID, when one was persisted
	EventID string

	// Action describes what happened to the event
	Action string

	// Err carries the failure for 4xx/5xx statuses
	Err error
}

// Reaction runs after an event completes processing, detached from the
// HTTP response path.
type Reaction func(ctx context.Context, ev *event.WebhookEvent, outcome *processor.Outcome)

// EventEmitter publishes realtime events to in-process subscribers
type EventEmitter interface {
	Emit(ctx context.Context, ev *event.RealtimeEvent)
}

// Service handles inbound webhooks
type Service struct {
	verifiers  *verifier.Registry
	processors *processor.Registry
	events     event.Repository
	connectors ConnectorResolver
	secrets    secrets.Provider
	emitter    EventEmitter
	reactions  []Reaction
}

// NewService creates a webhook gateway
func NewService(verifiers *verifier.Registry, processors *processor.Registry, events event.Repository, connectors ConnectorResolver, secretsProvider secrets.Provider, eventEmitter EventEmitter) *Service {
	return &Service{
		verifiers:  verifiers,
		processors: processors,
		events:     events,
		connectors: connectors,
		secrets:    secretsProvider,
		emitter:    eventEmitter,
	}
}

// AddReaction registers a downstream reaction. Reactions run in a
// detached goroutine after successful processing; a panicking or slow
// reaction never changes the webhook's HTTP status.
func (s *Service) AddReaction(r Reaction) {
	s.reactions = append(s.reactions, r)
}

// Handle runs the inbound pipeline for one webhook delivery.
// Every early exit maps to a distinct HTTP status: unknown provider 400,
// verification failure 401, duplicates and unconfigured connectors 200
// (providers retry non-2xx responses), processing failure 500.
func (s *Service) Handle(ctx context.Context, provider string, rawBody []byte, headers http.Header) *Result {
	start := time.Now()
	defer func() {
		metrics.GatewayProcessingDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	v, ok := s.verifiers.Lookup(provider)
	if !ok {
		metrics.GatewayWebhooksReceived.WithLabelValues(provider, "rejected").Inc()
		return &Result{Status: http.StatusBadRequest, Err: ErrUnsupportedProvider}
	}

	signature, ok := v.SignatureHeader(headers)
	if !ok {
		metrics.GatewayVerificationFailures.WithLabelValues(provider, "missing_signature").Inc()
		return &Result{Status: http.StatusUnauthorized, Err: verifier.ErrMissingSignature}
	}

	secret, err := s.secrets.Get(ctx, secrets.SigningSecretKey(provider))
	if err != nil {
		slog.Error("Signing secret unavailable", "provider", provider, "error", err)
		metrics.GatewayVerificationFailures.WithLabelValues(provider, "secret_unavailable").Inc()
		return &Result{Status: http.StatusUnauthorized, Err: err}
	}

	env, err := v.VerifyAndParse(rawBody, signature, secret, headers)
	if err != nil {
		slog.Warn("Webhook verification failed",
			"provider", provider,
			"error", err)
		metrics.GatewayVerificationFailures.WithLabelValues(provider, "verification_failed").Inc()
		return &Result{Status: http.StatusUnauthorized, Err: err}
	}

	// Duplicate deliveries are acknowledged without re-processing
	if existing, err := s.events.FindByExternalID(ctx, provider, env.ExternalEventID); err == nil {
		slog.Debug("Duplicate webhook delivery",
			"provider", provider,
			"externalEventId", env.ExternalEventID,
			"eventId", existing.ID)
		metrics.GatewayWebhooksReceived.WithLabelValues(provider, ActionSkipped).Inc()
		return &Result{Status: http.StatusOK, EventID: existing.ID, Action: ActionSkipped}
	}

	ev := &event.WebhookEvent{
		ID:              tsid.GenerateWithPrefix(tsid.PrefixEvent),
		Provider:        provider,
		ExternalEventID: env.ExternalEventID,
		EventType:       env.EventType,
		Payload:         rawBody,
		Status:          event.StatusProcessing,
		ReceivedAt:      time.Now(),
	}

	connector, found := s.connectors.Resolve(ctx, provider, env.AccountID)
	if !found {
		// Persist and acknowledge so the provider stops retrying an
		// integration that is not configured
		ev.Status = event.StatusSkipped
		if err := s.events.Insert(ctx, ev); err != nil {
			if errors.Is(err, event.ErrDuplicateEvent) {
				return &Result{Status: http.StatusOK, Action: ActionSkipped}
			}
			slog.Error("Failed to persist skipped event", "provider", provider, "error", err)
			return &Result{Status: http.StatusInternalServerError, Err: err}
		}
		slog.Info("Webhook skipped, no active connector",
			"provider", provider,
			"eventId", ev.ID,
			"eventType", env.EventType)
		metrics.GatewayWebhooksReceived.WithLabelValues(provider, ActionSkipped).Inc()
		return &Result{Status: http.StatusOK, EventID: ev.ID, Action: ActionSkipped}
	}
	ev.WorkspaceID = connector.WorkspaceID

	if err := s.events.Insert(ctx, ev); err != nil {
		if errors.Is(err, event.ErrDuplicateEvent) {
			// Lost the race against a concurrent duplicate delivery
			metrics.GatewayWebhooksReceived.WithLabelValues(provider, ActionSkipped).Inc()
			return &Result{Status: http.StatusOK, Action: ActionSkipped}
		}
		slog.Error("Failed to persist webhook event", "provider", provider, "error", err)
		return &Result{Status: http.StatusInternalServerError, Err: err}
	}

	p, ok := s.processors.Lookup(provider)
	if !ok {
		// A verifier without a processor is a wiring bug; fail the event
		err := errors.New("no processor registered for provider")
		s.markProcessed(ctx, ev.ID, event.StatusFailed, err.Error())
		return &Result{Status: http.StatusInternalServerError, EventID: ev.ID, Action: ActionFailed, Err: err}
	}

	outcome, err := p.ProcessEvent(ctx, env, connector.WorkspaceID, connector.ID)
	if err != nil {
		slog.Error("Webhook processing failed",
			"provider", provider,
			"eventId", ev.ID,
			"eventType", env.EventType,
			"error", err)
		s.markProcessed(ctx, ev.ID, event.StatusFailed, err.Error())
		metrics.GatewayWebhooksReceived.WithLabelValues(provider, ActionFailed).Inc()
		return &Result{Status: http.StatusInternalServerError, EventID: ev.ID, Action: ActionFailed, Err: err}
	}

	s.markProcessed(ctx, ev.ID, event.StatusCompleted, "")

	action := ActionProcessed
	if outcome.Action == processor.ActionIgnored {
		action = ActionIgnored
	}
	metrics.GatewayWebhooksReceived.WithLabelValues(provider, action).Inc()
	slog.Info("Webhook processed",
		"provider", provider,
		"eventId", ev.ID,
		"eventType", env.EventType,
		"action", action)

	s.react(ctx, ev, outcome)

	return &Result{Status: http.StatusOK, EventID: ev.ID, Action: action}
}

// markProcessed updates the stored event's terminal status
func (s *Service) markProcessed(ctx context.Context, id string, status event.Status, lastError string) {
	if err := s.events.MarkProcessed(ctx, id, status, time.Now(), lastError); err != nil {
		slog.Error("Failed to update event status",
			"eventId", id,
			"status", status,
			"error", err)
	}
}

// react publishes the outcome's realtime event and runs downstream
// reactions, all detached from the response path. A slow subscriber or a
// panicking reaction never delays or changes the webhook's HTTP status.
func (s *Service) react(ctx context.Context, ev *event.WebhookEvent, outcome *processor.Outcome) {
	if outcome.Event == nil && len(s.reactions) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Downstream reaction panicked",
					"eventId", ev.ID,
					"panic", r)
			}
		}()
		if outcome.Event != nil {
			s.emitter.Emit(detached, outcome.Event)
		}
		for _, reaction := range s.reactions {
			reaction(detached, ev, outcome)
		}
	}()
}
