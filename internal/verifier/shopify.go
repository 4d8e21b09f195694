package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const (
	shopifyHmacHeader      = "X-Shopify-Hmac-Sha256"
	shopifyWebhookIDHeader = "X-Shopify-Webhook-Id"
	shopifyTopicHeader     = "X-Shopify-Topic"
	shopifyDomainHeader    = "X-Shopify-Shop-Domain"
)

// ShopifyVerifier verifies Shopify webhook signatures.
// The X-Shopify-Hmac-Sha256 header carries the base64-encoded HMAC-SHA256
// of the raw body; event identity and type come from companion headers.
type ShopifyVerifier struct{}

// NewShopifyVerifier creates a Shopify verifier
func NewShopifyVerifier() *ShopifyVerifier {
	return &ShopifyVerifier{}
}

// Provider returns "shopify"
func (v *ShopifyVerifier) Provider() string {
	return "shopify"
}

// SignatureHeader extracts the X-Shopify-Hmac-Sha256 header
func (v *ShopifyVerifier) SignatureHeader(headers http.Header) (string, bool) {
	value := headers.Get(shopifyHmacHeader)
	return value, value != ""
}

// VerifyAndParse authenticates the body and parses the Shopify event
func (v *ShopifyVerifier) VerifyAndParse(rawBody []byte, signature, secret string, headers http.Header) (*Envelope, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrSignatureMismatch
	}

	webhookID := headers.Get(shopifyWebhookIDHeader)
	topic := headers.Get(shopifyTopicHeader)
	if webhookID == "" || topic == "" {
		return nil, ErrMalformedPayload
	}

	var data map[string]any
	if err := json.Unmarshal(rawBody, &data); err != nil {
		return nil, ErrMalformedPayload
	}

	return &Envelope{
		ExternalEventID: webhookID,
		EventType:       topic,
		AccountID:       headers.Get(shopifyDomainHeader),
		Data:            data,
		RawBody:         rawBody,
	}, nil
}
