package delivery

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"metricName":"revenue","currentValue":1250.5}`)
	header := SignatureHeader("whsec_test", time.Now().Unix(), payload)

	if err := VerifySignature("whsec_test", header, payload, DefaultTolerance); err != nil {
		t.Fatalf("Expected valid signature to verify, got %v", err)
	}
}

func TestSignatureSingleByteMutation(t *testing.T) {
	payload := []byte(`{"metricName":"revenue","currentValue":1250.5}`)
	header := SignatureHeader("whsec_test", time.Now().Unix(), payload)

	for i := range payload {
		mutated := append([]byte{}, payload...)
		mutated[i] ^= 0x01
		if err := VerifySignature("whsec_test", header, mutated, DefaultTolerance); !errors.Is(err, ErrSignatureMismatch) {
			t.Fatalf("Expected mismatch for mutation at byte %d, got %v", i, err)
		}
	}
}

func TestSignatureWrongSecret(t *testing.T) {
	payload := []byte(`{"x":1}`)
	header := SignatureHeader("whsec_test", time.Now().Unix(), payload)

	if err := VerifySignature("whsec_other", header, payload, DefaultTolerance); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Expected mismatch with wrong secret, got %v", err)
	}
}

func TestSignatureTimestampTolerance(t *testing.T) {
	payload := []byte(`{"x":1}`)
	stale := time.Now().Add(-10 * time.Minute).Unix()
	header := SignatureHeader("whsec_test", stale, payload)

	if err := VerifySignature("whsec_test", header, payload, DefaultTolerance); !errors.Is(err, ErrTimestampTolerance) {
		t.Errorf("Expected tolerance rejection for stale timestamp, got %v", err)
	}

	// A wide tolerance accepts the same header
	if err := VerifySignature("whsec_test", header, payload, time.Hour); err != nil {
		t.Errorf("Expected wide tolerance to accept, got %v", err)
	}
}

func TestSignatureMalformedHeader(t *testing.T) {
	payload := []byte(`{"x":1}`)
	headers := []string{
		"",
		"v1=abc",
		"t=123",
		"t=notanumber,v1=abc",
		"garbage",
	}

	for _, h := range headers {
		if err := VerifySignature("whsec_test", h, payload, DefaultTolerance); !errors.Is(err, ErrMalformedSignature) {
			t.Errorf("Expected malformed error for %q, got %v", h, err)
		}
	}
}

func TestSignatureHeaderFormat(t *testing.T) {
	payload := []byte(`{"x":1}`)
	ts := int64(1700000000)
	header := SignatureHeader("whsec_test", ts, payload)

	expected := fmt.Sprintf("t=%d,v1=%s", ts, Sign("whsec_test", ts, payload))
	if header != expected {
		t.Errorf("Unexpected header format: %s", header)
	}
}
