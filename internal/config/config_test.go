package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.MongoDB.Database != "pulsegate" {
		t.Errorf("Expected default database pulsegate, got %s", cfg.MongoDB.Database)
	}
	if cfg.Metric.DebounceWindow != time.Second {
		t.Errorf("Expected 1s debounce, got %s", cfg.Metric.DebounceWindow)
	}
	if cfg.Metric.CacheTTL != 30*time.Second {
		t.Errorf("Expected 30s cache TTL, got %s", cfg.Metric.CacheTTL)
	}
	if cfg.Anomaly.AlertCooldown != time.Hour {
		t.Errorf("Expected 1h cooldown, got %s", cfg.Anomaly.AlertCooldown)
	}
	if cfg.Delivery.BaseRetryDelay != 60*time.Second {
		t.Errorf("Expected 60s base retry delay, got %s", cfg.Delivery.BaseRetryDelay)
	}
	if cfg.Delivery.MaxRetries != 3 {
		t.Errorf("Expected 3 max retries, got %d", cfg.Delivery.MaxRetries)
	}
	if cfg.Batch.MaxBatchSize != 100 || cfg.Batch.MaxWaitTime != 5*time.Second {
		t.Errorf("Unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Redis.Enabled || cfg.NATS.Enabled || cfg.DevMode {
		t.Error("Expected optional backends and dev mode off by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("METRIC_DEBOUNCE_WINDOW", "250ms")
	t.Setenv("DELIVERY_MAX_RETRIES", "5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Metric.DebounceWindow != 250*time.Millisecond {
		t.Errorf("Expected 250ms debounce, got %s", cfg.Metric.DebounceWindow)
	}
	if cfg.Delivery.MaxRetries != 5 {
		t.Errorf("Expected 5 max retries, got %d", cfg.Delivery.MaxRetries)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Expected trimmed CORS origins, got %v", cfg.HTTP.CORSOrigins)
	}
	if !cfg.DevMode {
		t.Error("Expected dev mode enabled")
	}
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("METRIC_CACHE_TTL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("Expected fallback port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Metric.CacheTTL != 30*time.Second {
		t.Errorf("Expected fallback TTL 30s, got %s", cfg.Metric.CacheTTL)
	}
}

func TestLoadWithFileOverlaysEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MONGODB_DATABASE", "from-env")

	path := filepath.Join(t.TempDir(), "pulsegate.toml")
	content := `
dev_mode = true

[http]
port = 7070

[metric]
debounce_window = "2s"

[delivery]
max_retries = 7
base_retry_delay = "30s"

[secrets.signing]
stripe = "whsec_from_file"
shopify = "shpss_from_file"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile failed: %v", err)
	}

	// File wins over env
	if cfg.HTTP.Port != 7070 {
		t.Errorf("Expected file port 7070, got %d", cfg.HTTP.Port)
	}
	// Env survives where the file is silent
	if cfg.MongoDB.Database != "from-env" {
		t.Errorf("Expected env database, got %s", cfg.MongoDB.Database)
	}
	if cfg.Metric.DebounceWindow != 2*time.Second {
		t.Errorf("Expected 2s debounce from file, got %s", cfg.Metric.DebounceWindow)
	}
	if cfg.Delivery.MaxRetries != 7 || cfg.Delivery.BaseRetryDelay != 30*time.Second {
		t.Errorf("Unexpected delivery overlay: %+v", cfg.Delivery)
	}
	if cfg.Secrets.Signing["stripe"] != "whsec_from_file" || cfg.Secrets.Signing["shopify"] != "shpss_from_file" {
		t.Errorf("Expected signing secrets from file, got %v", cfg.Secrets.Signing)
	}
	if !cfg.DevMode {
		t.Error("Expected dev mode from file")
	}
}

func TestLoadWithMissingFileFails(t *testing.T) {
	if _, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadWithEmptyPathSkipsFile(t *testing.T) {
	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile failed: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("Expected env-only defaults, got port %d", cfg.HTTP.Port)
	}
}
