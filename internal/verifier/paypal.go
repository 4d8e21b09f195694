package verifier

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// PayPalVerifier verifies PayPal webhook notifications.
// PayPal notifications carry no per-request HMAC the way Stripe and Shopify
// do; authenticity is established by matching the merchant account id in the
// payload against the configured value (passed as the secret).
type PayPalVerifier struct{}

// NewPayPalVerifier creates a PayPal verifier
func NewPayPalVerifier() *PayPalVerifier {
	return &PayPalVerifier{}
}

// Provider returns "paypal"
func (v *PayPalVerifier) Provider() string {
	return "paypal"
}

// SignatureHeader reports no signature header; account matching happens in
// VerifyAndParse
func (v *PayPalVerifier) SignatureHeader(headers http.Header) (string, bool) {
	return "", true
}

// VerifyAndParse matches the merchant id and parses the PayPal event
func (v *PayPalVerifier) VerifyAndParse(rawBody []byte, signature, secret string, headers http.Header) (*Envelope, error) {
	var payload struct {
		ID        string         `json:"id"`
		EventType string         `json:"event_type"`
		Resource  map[string]any `json:"resource"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil || payload.ID == "" || payload.EventType == "" {
		return nil, ErrMalformedPayload
	}

	merchantID := extractMerchantID(payload.Resource)
	if merchantID == "" {
		return nil, ErrAccountMismatch
	}
	if subtle.ConstantTimeCompare([]byte(merchantID), []byte(secret)) != 1 {
		return nil, ErrAccountMismatch
	}

	return &Envelope{
		ExternalEventID: payload.ID,
		EventType:       payload.EventType,
		AccountID:       merchantID,
		Data:            payload.Resource,
		RawBody:         rawBody,
	}, nil
}

// extractMerchantID pulls the merchant id from the resource payload.
// PayPal places it at resource.merchant_id or nested under payee.
func extractMerchantID(resource map[string]any) string {
	if resource == nil {
		return ""
	}
	if id, ok := resource["merchant_id"].(string); ok {
		return id
	}
	if payee, ok := resource["payee"].(map[string]any); ok {
		if id, ok := payee["merchant_id"].(string); ok {
			return id
		}
	}
	return ""
}
