package secrets

import (
	"context"
	"errors"
	"testing"
)

func TestEnvProviderGet(t *testing.T) {
	t.Setenv("PULSEGATE_WEBHOOK_SIGNING_STRIPE", "whsec_test123")

	p := NewEnvProvider("")
	value, err := p.Get(context.Background(), SigningSecretKey("stripe"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "whsec_test123" {
		t.Errorf("Expected whsec_test123, got %s", value)
	}
}

func TestEnvProviderMissing(t *testing.T) {
	p := NewEnvProvider("PULSEGATE_TEST_MISSING")
	_, err := p.Get(context.Background(), "webhook.signing.nope")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Expected ErrSecretNotFound, got %v", err)
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(map[string]string{
		SigningSecretKey("shopify"): "shpss_abc",
	})

	value, err := p.Get(context.Background(), "webhook.signing.shopify")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "shpss_abc" {
		t.Errorf("Expected shpss_abc, got %s", value)
	}
}

func TestChainFallsThrough(t *testing.T) {
	first := NewStaticProvider(nil)
	second := NewStaticProvider(map[string]string{"k": "v"})

	chain := NewChain(first, second)
	value, err := chain.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "v" {
		t.Errorf("Expected v, got %s", value)
	}

	if _, err := chain.Get(context.Background(), "absent"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Expected ErrSecretNotFound, got %v", err)
	}
}
