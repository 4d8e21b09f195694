// Package delivery signs and POSTs event payloads to customer-configured
// endpoints, retrying failed attempts on an exponential backoff schedule.
package delivery

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go.pulsegate.dev/internal/common/tsid"
)

// DeliveryStatus represents the lifecycle of an outbound delivery
type DeliveryStatus string

const (
	// StatusPending - created, no attempt made yet
	StatusPending DeliveryStatus = "pending"

	// StatusRetrying - attempt failed, another is scheduled
	StatusRetrying DeliveryStatus = "retrying"

	// StatusSuccess - the endpoint acknowledged the delivery
	StatusSuccess DeliveryStatus = "success"

	// StatusFailed - retries exhausted or endpoint inactive
	StatusFailed DeliveryStatus = "failed"
)

// IsTerminal returns true if this status represents a final state
func (s DeliveryStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// WebhookEndpoint is a customer-configured delivery target.
// The signing secret itself is never persisted; only its bcrypt hash is,
// so a customer-presented secret can be verified later.
type WebhookEndpoint struct {
	// ID is the unique identifier (TSID format, wep_ prefix)
	ID string `bson:"_id" json:"id"`

	// WorkspaceID is the owning workspace
	WorkspaceID string `bson:"workspaceId" json:"workspaceId"`

	// URL is the delivery target
	URL string `bson:"url" json:"url"`

	// SecretHash is the bcrypt hash of the endpoint's signing secret
	SecretHash string `bson:"secretHash" json:"-"`

	// Events lists subscribed event types; "*" subscribes to all
	Events []string `bson:"events" json:"events"`

	// IsActive gates delivery; inactive endpoints fail without an attempt
	IsActive bool `bson:"isActive" json:"isActive"`

	// MaxRetries bounds total attempts; zero falls back to the service default
	MaxRetries int `bson:"maxRetries" json:"maxRetries"`

	// RetryDelaySeconds overrides the backoff base; zero falls back to the default
	RetryDelaySeconds int `bson:"retryDelaySeconds" json:"retryDelaySeconds"`

	// RateLimitPerSecond caps outbound attempts; zero means unlimited
	RateLimitPerSecond int `bson:"rateLimitPerSecond" json:"rateLimitPerSecond"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// NewEndpoint creates an endpoint, hashing the signing secret with bcrypt
func NewEndpoint(workspaceID, url, secret string, events []string) (*WebhookEndpoint, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &WebhookEndpoint{
		ID:          tsid.GenerateWithPrefix(tsid.PrefixEndpoint),
		WorkspaceID: workspaceID,
		URL:         url,
		SecretHash:  string(hash),
		Events:      events,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}, nil
}

// VerifySecret checks a candidate secret against the stored hash
func (e *WebhookEndpoint) VerifySecret(candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(e.SecretHash), []byte(candidate)) == nil
}

// SubscribesTo reports whether the endpoint wants the event type
func (e *WebhookEndpoint) SubscribesTo(eventType string) bool {
	for _, ev := range e.Events {
		if ev == "*" || ev == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one outbound payload's delivery record
type WebhookDelivery struct {
	// ID is the unique identifier (TSID format, dlv_ prefix)
	ID string `bson:"_id" json:"id"`

	// EndpointID is the target endpoint
	EndpointID string `bson:"endpointId" json:"endpointId"`

	// EventType is the event type that produced the payload
	EventType string `bson:"eventType" json:"eventType"`

	// Payload is the JSON body to deliver
	Payload []byte `bson:"payload" json:"payload"`

	// Status is the current delivery status
	Status DeliveryStatus `bson:"status" json:"status"`

	// Attempts is the number of attempts made so far
	Attempts int `bson:"attempts" json:"attempts"`

	// LastAttemptAt is when the most recent attempt finished
	LastAttemptAt *time.Time `bson:"lastAttemptAt,omitempty" json:"lastAttemptAt,omitempty"`

	// NextRetryAt schedules the next attempt while status is retrying
	NextRetryAt *time.Time `bson:"nextRetryAt,omitempty" json:"nextRetryAt,omitempty"`

	// LastError is the most recent attempt's error, if any
	LastError string `bson:"lastError,omitempty" json:"lastError,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// NewDelivery creates a pending delivery for an endpoint
func NewDelivery(endpointID, eventType string, payload []byte) *WebhookDelivery {
	return &WebhookDelivery{
		ID:         tsid.GenerateWithPrefix(tsid.PrefixDelivery),
		EndpointID: endpointID,
		EventType:  eventType,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
}

// Repository errors
var (
	// ErrEndpointNotFound - no endpoint matches the query
	ErrEndpointNotFound = errors.New("webhook endpoint not found")

	// ErrDeliveryNotFound - no delivery matches the query
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

// EndpointRepository stores webhook endpoints
type EndpointRepository interface {
	// Insert persists a new endpoint
	Insert(ctx context.Context, e *WebhookEndpoint) error

	// FindByID looks up an endpoint. Returns ErrEndpointNotFound when absent.
	FindByID(ctx context.Context, id string) (*WebhookEndpoint, error)

	// FindActiveByEvent returns active endpoints subscribed to the event
	// type for a workspace, wildcard subscriptions included.
	FindActiveByEvent(ctx context.Context, workspaceID, eventType string) ([]*WebhookEndpoint, error)

	// Update replaces a stored endpoint
	Update(ctx context.Context, e *WebhookEndpoint) error
}

// DeliveryRepository stores delivery records
type DeliveryRepository interface {
	// Insert persists a new delivery
	Insert(ctx context.Context, d *WebhookDelivery) error

	// FindByID looks up a delivery. Returns ErrDeliveryNotFound when absent.
	FindByID(ctx context.Context, id string) (*WebhookDelivery, error)

	// Update replaces a stored delivery
	Update(ctx context.Context, d *WebhookDelivery) error

	// FindDue returns retrying deliveries whose nextRetryAt has passed,
	// oldest first, bounded by limit.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*WebhookDelivery, error)

	// CountPending counts deliveries not yet in a terminal status
	CountPending(ctx context.Context) (int64, error)
}
