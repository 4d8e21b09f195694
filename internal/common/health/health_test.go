package health

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestCheckerAllUp(t *testing.T) {
	c := NewChecker()
	c.AddReadinessCheck(MongoDBCheck(func() error { return nil }))
	c.AddReadinessCheck(SchedulerCheck(func() bool { return true }))

	resp := c.GetReadiness()
	if resp.Status != StatusUp {
		t.Errorf("Expected UP, got %s", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("Expected 2 checks, got %d", len(resp.Checks))
	}
}

func TestCheckerOneDown(t *testing.T) {
	c := NewChecker()
	c.AddReadinessCheck(MongoDBCheck(func() error { return nil }))
	c.AddReadinessCheck(RedisCheck(func() error { return errors.New("connection refused") }))

	resp := c.GetReadiness()
	if resp.Status != StatusDown {
		t.Errorf("Expected DOWN when any check fails, got %s", resp.Status)
	}
}

func TestHandleReadyStatusCodes(t *testing.T) {
	c := NewChecker()
	c.AddReadinessCheck(NATSCheck(func() bool { return false }))

	rec := httptest.NewRecorder()
	c.HandleReady(rec, httptest.NewRequest("GET", "/health/ready", nil))

	if rec.Code != 503 {
		t.Errorf("Expected 503 for DOWN readiness, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != StatusDown {
		t.Errorf("Expected DOWN in body, got %s", resp.Status)
	}
}

func TestHandleLiveNoChecks(t *testing.T) {
	c := NewChecker()

	rec := httptest.NewRecorder()
	c.HandleLive(rec, httptest.NewRequest("GET", "/health/live", nil))

	if rec.Code != 200 {
		t.Errorf("Expected 200 when no liveness checks registered, got %d", rec.Code)
	}
}
