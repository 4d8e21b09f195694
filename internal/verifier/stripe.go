package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	stripeSignatureHeader = "Stripe-Signature"

	// DefaultStripeTolerance bounds how old a signed timestamp may be
	DefaultStripeTolerance = 5 * time.Minute
)

// StripeVerifier verifies Stripe webhook signatures.
// Header format: "t=<unix_ts>,v1=<hex_hmac>[,v1=<hex_hmac>...]".
// The signed payload is "{t}.{body}".
type StripeVerifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewStripeVerifier creates a Stripe verifier with the default tolerance
func NewStripeVerifier() *StripeVerifier {
	return &StripeVerifier{
		tolerance: DefaultStripeTolerance,
		now:       time.Now,
	}
}

// WithTolerance overrides the timestamp tolerance window
func (v *StripeVerifier) WithTolerance(tolerance time.Duration) *StripeVerifier {
	v.tolerance = tolerance
	return v
}

// Provider returns "stripe"
func (v *StripeVerifier) Provider() string {
	return "stripe"
}

// SignatureHeader extracts the Stripe-Signature header
func (v *StripeVerifier) SignatureHeader(headers http.Header) (string, bool) {
	value := headers.Get(stripeSignatureHeader)
	return value, value != ""
}

// VerifyAndParse authenticates the body and parses the Stripe event
func (v *StripeVerifier) VerifyAndParse(rawBody []byte, signature, secret string, headers http.Header) (*Envelope, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	timestamp, candidates, err := parseStripeSignature(signature)
	if err != nil {
		return nil, err
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return nil, ErrTimestampTolerance
	}

	signedPayload := strconv.FormatInt(timestamp, 10) + "." + string(rawBody)
	expected := computeHMAC(secret, signedPayload)

	matched := false
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrSignatureMismatch
	}

	var payload struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"`
		Account string         `json:"account"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil || payload.ID == "" || payload.Type == "" {
		return nil, ErrMalformedPayload
	}

	return &Envelope{
		ExternalEventID: payload.ID,
		EventType:       payload.Type,
		AccountID:       payload.Account,
		Data:            payload.Data,
		RawBody:         rawBody,
	}, nil
}

// parseStripeSignature parses "t=...,v1=...,v1=..." into timestamp and candidates
func parseStripeSignature(signature string) (int64, []string, error) {
	var timestamp int64 = -1
	candidates := make([]string, 0, 1)

	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, ErrMalformedSignature
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedSignature
			}
			timestamp = parsed
		case "v1":
			candidates = append(candidates, value)
		}
		// Unknown schemes (v0 etc.) are ignored
	}

	if timestamp < 0 || len(candidates) == 0 {
		return 0, nil, ErrMalformedSignature
	}
	return timestamp, candidates, nil
}

// computeHMAC returns the hex-encoded HMAC-SHA256 of the payload
func computeHMAC(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprint(mac, payload)
	return hex.EncodeToString(mac.Sum(nil))
}
