package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"go.pulsegate.dev/internal/common/metrics"
	"go.pulsegate.dev/internal/common/secrets"
)

// Config holds delivery service configuration
type Config struct {
	// BaseRetryDelay is the backoff base; actual delay grows exponentially
	BaseRetryDelay time.Duration

	// MaxRetries bounds total attempts per delivery
	MaxRetries int

	// AttemptTimeout bounds a single HTTP attempt
	AttemptTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseRetryDelay: 60 * time.Second,
		MaxRetries:     3,
		AttemptTimeout: 30 * time.Second,
	}
}

// Result is the outcome of one delivery attempt
type Result struct {
	Success    bool
	StatusCode int
	Duration   time.Duration
	Error      string
}

// UpdateFunc persists a delivery state change
type UpdateFunc func(ctx context.Context, d *WebhookDelivery) error

// Service performs signed outbound deliveries.
// Each endpoint gets its own circuit breaker and rate limiter, so one
// failing or slow endpoint never starves the others.
type Service struct {
	config  *Config
	client  *http.Client
	secrets secrets.Provider

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// NewService creates a delivery service
func NewService(config *Config, secretsProvider secrets.Provider) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:   config,
		client:   &http.Client{Timeout: config.AttemptTimeout},
		secrets:  secretsProvider,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

// CalculateRetryDelay returns the backoff delay before the given attempt.
// Non-decreasing in attempt and capped at 16x the base delay.
func (s *Service) CalculateRetryDelay(attempt int) time.Duration {
	base := s.config.BaseRetryDelay
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 4 {
		shift = 4
	}
	return base * time.Duration(1<<shift)
}

// Deliver signs the payload and POSTs it to the endpoint.
// Never returns an error for HTTP-level failures; the Result carries them.
func (s *Service) Deliver(ctx context.Context, endpoint *WebhookEndpoint, deliveryID string, payload []byte) *Result {
	if limiter := s.limiterFor(endpoint); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return &Result{Error: fmt.Sprintf("rate limit wait: %v", err)}
		}
	}

	start := time.Now()
	breaker := s.breakerFor(endpoint.ID)
	out, err := breaker.Execute(func() (any, error) {
		return s.attempt(ctx, endpoint, deliveryID, payload)
	})
	elapsed := time.Since(start)

	metrics.DeliveryDuration.Observe(elapsed.Seconds())

	if err != nil {
		result := &Result{Duration: elapsed, Error: err.Error()}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result.Error = "circuit breaker open: " + endpoint.ID
		}
		var httpErr *httpStatusError
		if errors.As(err, &httpErr) {
			result.StatusCode = httpErr.status
		}
		metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
		return result
	}

	result := out.(*Result)
	result.Duration = elapsed
	metrics.DeliveryAttempts.WithLabelValues("success").Inc()
	return result
}

// httpStatusError carries a non-2xx response status through the breaker
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return "endpoint returned status " + strconv.Itoa(e.status)
}

// attempt performs one signed POST
func (s *Service) attempt(ctx context.Context, endpoint *WebhookEndpoint, deliveryID string, payload []byte) (*Result, error) {
	secret, err := s.secrets.Get(ctx, secrets.EndpointSecretKey(endpoint.ID))
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint secret: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build delivery request: %w", err)
	}

	timestamp := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", SignatureHeader(secret, timestamp, payload))
	req.Header.Set("X-Webhook-ID", deliveryID)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("User-Agent", "pulsegate/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	return &Result{Success: true, StatusCode: resp.StatusCode}, nil
}

// ProcessDelivery runs one attempt and transitions the delivery record.
// An inactive endpoint fails the delivery without an attempt. Failed
// attempts schedule a retry until maxRetries is exhausted.
func (s *Service) ProcessDelivery(ctx context.Context, endpoint *WebhookEndpoint, d *WebhookDelivery, onUpdate UpdateFunc) error {
	if !endpoint.IsActive {
		d.Status = StatusFailed
		d.LastError = "endpoint inactive"
		slog.Warn("Delivery failed, endpoint inactive",
			"deliveryId", d.ID,
			"endpointId", endpoint.ID)
		return onUpdate(ctx, d)
	}

	result := s.Deliver(ctx, endpoint, d.ID, d.Payload)

	now := time.Now()
	d.Attempts++
	d.LastAttemptAt = &now
	d.NextRetryAt = nil

	if result.Success {
		d.Status = StatusSuccess
		d.LastError = ""
		slog.Info("Delivery succeeded",
			"deliveryId", d.ID,
			"endpointId", endpoint.ID,
			"attempts", d.Attempts,
			"statusCode", result.StatusCode)
		return onUpdate(ctx, d)
	}

	d.LastError = result.Error

	maxRetries := endpoint.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.config.MaxRetries
	}

	if d.Attempts < maxRetries {
		delay := s.retryDelayFor(endpoint, d.Attempts)
		next := now.Add(delay)
		d.Status = StatusRetrying
		d.NextRetryAt = &next
		slog.Warn("Delivery attempt failed, retry scheduled",
			"deliveryId", d.ID,
			"endpointId", endpoint.ID,
			"attempt", d.Attempts,
			"nextRetryAt", next,
			"error", result.Error)
	} else {
		d.Status = StatusFailed
		slog.Error("Delivery failed permanently",
			"deliveryId", d.ID,
			"endpointId", endpoint.ID,
			"attempts", d.Attempts,
			"error", result.Error)
	}
	return onUpdate(ctx, d)
}

// retryDelayFor honors the endpoint's backoff base override
func (s *Service) retryDelayFor(endpoint *WebhookEndpoint, attempt int) time.Duration {
	if endpoint.RetryDelaySeconds > 0 {
		scoped := &Service{config: &Config{BaseRetryDelay: time.Duration(endpoint.RetryDelaySeconds) * time.Second}}
		return scoped.CalculateRetryDelay(attempt)
	}
	return s.CalculateRetryDelay(attempt)
}

// breakerFor returns the endpoint's circuit breaker, creating it lazily
func (s *Service) breakerFor(endpointID string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[endpointID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "delivery-" + endpointID,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.DeliveryCircuitBreakerState.WithLabelValues(endpointID).Set(breakerStateValue(to))
			slog.Warn("Delivery circuit breaker state changed",
				"endpointId", endpointID,
				"from", from.String(),
				"to", to.String())
		},
	})
	s.breakers[endpointID] = cb
	return cb
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return metrics.CircuitBreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitBreakerHalfOpen
	default:
		return metrics.CircuitBreakerClosed
	}
}

// limiterFor returns the endpoint's rate limiter, or nil when unlimited
func (s *Service) limiterFor(endpoint *WebhookEndpoint) *rate.Limiter {
	if endpoint.RateLimitPerSecond <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[endpoint.ID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(endpoint.RateLimitPerSecond), endpoint.RateLimitPerSecond)
	s.limiters[endpoint.ID] = l
	return l
}
