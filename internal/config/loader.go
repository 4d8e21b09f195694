package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP     TOMLHTTPConfig     `toml:"http"`
	MongoDB  TOMLMongoDBConfig  `toml:"mongodb"`
	Redis    TOMLRedisConfig    `toml:"redis"`
	NATS     TOMLNATSConfig     `toml:"nats"`
	Secrets  TOMLSecretsConfig  `toml:"secrets"`
	Batch    TOMLBatchConfig    `toml:"batch"`
	Metric   TOMLMetricConfig   `toml:"metric"`
	Anomaly  TOMLAnomalyConfig  `toml:"anomaly"`
	Delivery TOMLDeliveryConfig `toml:"delivery"`
	DevMode  bool               `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLMongoDBConfig represents MongoDB configuration in TOML
type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// TOMLRedisConfig represents Redis configuration in TOML
type TOMLRedisConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// TOMLNATSConfig represents NATS configuration in TOML
type TOMLNATSConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// TOMLSecretsConfig represents signing secret configuration in TOML
type TOMLSecretsConfig struct {
	EnvPrefix string            `toml:"env_prefix"`
	Signing   map[string]string `toml:"signing"`
}

// TOMLBatchConfig represents batch processor configuration in TOML
type TOMLBatchConfig struct {
	MaxBatchSize int    `toml:"max_batch_size"`
	MaxWaitTime  string `toml:"max_wait_time"`
}

// TOMLMetricConfig represents metric service configuration in TOML
type TOMLMetricConfig struct {
	DebounceWindow string `toml:"debounce_window"`
	CacheTTL       string `toml:"cache_ttl"`
}

// TOMLAnomalyConfig represents anomaly detection configuration in TOML
type TOMLAnomalyConfig struct {
	AlertCooldown string `toml:"alert_cooldown"`
}

// TOMLDeliveryConfig represents outbound delivery configuration in TOML
type TOMLDeliveryConfig struct {
	BaseRetryDelay        string `toml:"base_retry_delay"`
	MaxRetries            int    `toml:"max_retries"`
	AttemptTimeout        string `toml:"attempt_timeout"`
	SchedulerPollInterval string `toml:"scheduler_poll_interval"`
}

// LoadWithFile loads configuration from the environment, then overlays
// values from a TOML file if one is present. File values win over env.
func LoadWithFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv("PULSEGATE_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var fileCfg TOMLConfig
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyTOML(cfg, &fileCfg)
	return cfg, nil
}

// applyTOML overlays non-zero TOML values onto the config
func applyTOML(cfg *Config, f *TOMLConfig) {
	if f.HTTP.Port != 0 {
		cfg.HTTP.Port = f.HTTP.Port
	}
	if len(f.HTTP.CORSOrigins) > 0 {
		cfg.HTTP.CORSOrigins = f.HTTP.CORSOrigins
	}

	if f.MongoDB.URI != "" {
		cfg.MongoDB.URI = f.MongoDB.URI
	}
	if f.MongoDB.Database != "" {
		cfg.MongoDB.Database = f.MongoDB.Database
	}

	if f.Redis.URL != "" {
		cfg.Redis.URL = f.Redis.URL
		cfg.Redis.Enabled = f.Redis.Enabled
	}

	if f.NATS.URL != "" {
		cfg.NATS.URL = f.NATS.URL
		cfg.NATS.Enabled = f.NATS.Enabled
	}
	if f.NATS.SubjectPrefix != "" {
		cfg.NATS.SubjectPrefix = f.NATS.SubjectPrefix
	}

	if f.Secrets.EnvPrefix != "" {
		cfg.Secrets.EnvPrefix = f.Secrets.EnvPrefix
	}
	for provider, secret := range f.Secrets.Signing {
		cfg.Secrets.Signing[provider] = secret
	}

	if f.Batch.MaxBatchSize != 0 {
		cfg.Batch.MaxBatchSize = f.Batch.MaxBatchSize
	}
	applyDuration(&cfg.Batch.MaxWaitTime, f.Batch.MaxWaitTime)

	applyDuration(&cfg.Metric.DebounceWindow, f.Metric.DebounceWindow)
	applyDuration(&cfg.Metric.CacheTTL, f.Metric.CacheTTL)

	applyDuration(&cfg.Anomaly.AlertCooldown, f.Anomaly.AlertCooldown)

	applyDuration(&cfg.Delivery.BaseRetryDelay, f.Delivery.BaseRetryDelay)
	if f.Delivery.MaxRetries != 0 {
		cfg.Delivery.MaxRetries = f.Delivery.MaxRetries
	}
	applyDuration(&cfg.Delivery.AttemptTimeout, f.Delivery.AttemptTimeout)
	applyDuration(&cfg.Delivery.SchedulerPollInterval, f.Delivery.SchedulerPollInterval)

	if f.DevMode {
		cfg.DevMode = true
	}
}

func applyDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*dst = parsed
	}
}
