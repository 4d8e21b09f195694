// Package verifier authenticates inbound webhook requests and parses them
// into normalized event envelopes.
//
// Each provider implements Verifier: Stripe and Shopify carry HMAC-SHA256
// signatures compared in constant time; PayPal has no cryptographic
// signature and is verified by matching the configured account identifier.
package verifier

import (
	"errors"
	"net/http"
)

// Verification errors. Each failure mode gets a distinct error value so the
// gateway can report a precise rejection reason without leaking internals.
var (
	// ErrMissingSignature - the expected signature header is absent
	ErrMissingSignature = errors.New("missing signature header")

	// ErrSignatureMismatch - the computed HMAC does not match the header
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrMalformedSignature - the signature header could not be parsed
	ErrMalformedSignature = errors.New("malformed signature header")

	// ErrTimestampTolerance - the signed timestamp is outside the tolerance window
	ErrTimestampTolerance = errors.New("signature timestamp outside tolerance")

	// ErrMalformedPayload - the body could not be parsed into an event
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrAccountMismatch - account-verified provider sent an unexpected account id
	ErrAccountMismatch = errors.New("account identifier mismatch")
)

// Envelope is a verified, normalized inbound event
type Envelope struct {
	// ExternalEventID is the provider-assigned event identifier
	ExternalEventID string

	// EventType is the provider's event type, e.g. "orders/create"
	EventType string

	// AccountID identifies the provider account (shop domain, Stripe
	// account, PayPal merchant id) when the provider sends one
	AccountID string

	// Data is the parsed payload
	Data map[string]any

	// RawBody is the original request body
	RawBody []byte
}

// Verifier authenticates and parses inbound webhooks for one provider
type Verifier interface {
	// Provider returns the provider identifier, e.g. "stripe"
	Provider() string

	// SignatureHeader extracts the provider's signature header value.
	// ok is false when the header is absent. Providers without a
	// cryptographic signature return ("", true).
	SignatureHeader(headers http.Header) (value string, ok bool)

	// VerifyAndParse authenticates the raw body against the signature and
	// secret and parses it into an Envelope. Returns one of the package
	// error values on failure; never panics past the boundary.
	VerifyAndParse(rawBody []byte, signature, secret string, headers http.Header) (*Envelope, error)
}

// Registry maps provider identifiers to verifiers
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry creates a registry over the given verifiers
func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[v.Provider()] = v
	}
	return r
}

// Register adds a verifier to the registry
func (r *Registry) Register(v Verifier) {
	r.verifiers[v.Provider()] = v
}

// Lookup returns the verifier for a provider, if registered
func (r *Registry) Lookup(provider string) (Verifier, bool) {
	v, ok := r.verifiers[provider]
	return v, ok
}

// Providers returns the registered provider identifiers
func (r *Registry) Providers() []string {
	providers := make([]string, 0, len(r.verifiers))
	for p := range r.verifiers {
		providers = append(providers, p)
	}
	return providers
}
