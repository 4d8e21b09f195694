package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for Pulsegate
type Config struct {
	// HTTP server configuration
	HTTP HTTPConfig

	// MongoDB configuration
	MongoDB MongoDBConfig

	// Redis configuration (optional metric cache backend)
	Redis RedisConfig

	// NATS configuration (optional realtime event bridge)
	NATS NATSConfig

	// Secrets configuration (inbound signing secrets)
	Secrets SecretsConfig

	// Batch processor configuration
	Batch BatchConfig

	// Metric recalculation configuration
	Metric MetricConfig

	// Anomaly detection configuration
	Anomaly AnomalyConfig

	// Outbound delivery configuration
	Delivery DeliveryConfig

	// Development mode
	DevMode bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis configuration for the metric cache backend
type RedisConfig struct {
	Enabled bool
	URL     string
}

// NATSConfig holds NATS configuration for the realtime event bridge
type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
}

// SecretsConfig holds signing secret resolution configuration
type SecretsConfig struct {
	// EnvPrefix is the prefix for environment-resolved secrets
	EnvPrefix string

	// Signing maps provider name to signing secret, typically loaded
	// from the TOML config file. Overrides the environment.
	Signing map[string]string
}

// BatchConfig holds event batch processor configuration
type BatchConfig struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
}

// MetricConfig holds metric recalculation configuration
type MetricConfig struct {
	DebounceWindow time.Duration
	CacheTTL       time.Duration
}

// AnomalyConfig holds anomaly detection configuration
type AnomalyConfig struct {
	AlertCooldown time.Duration
}

// DeliveryConfig holds outbound delivery configuration
type DeliveryConfig struct {
	// BaseRetryDelay is the base for the exponential backoff schedule
	BaseRetryDelay time.Duration

	// MaxRetries is the default total attempt ceiling per delivery
	MaxRetries int

	// AttemptTimeout bounds a single outbound POST
	AttemptTimeout time.Duration

	// SchedulerPollInterval is how often due retries are polled
	SchedulerPollInterval time.Duration
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:4200"}),
		},

		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "pulsegate"),
		},

		Redis: RedisConfig{
			Enabled: getEnvBool("REDIS_ENABLED", false),
			URL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", false),
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "pulsegate.events"),
		},

		Secrets: SecretsConfig{
			EnvPrefix: getEnv("SECRETS_ENV_PREFIX", "PULSEGATE"),
			Signing:   map[string]string{},
		},

		Batch: BatchConfig{
			MaxBatchSize: getEnvInt("BATCH_MAX_SIZE", 100),
			MaxWaitTime:  getEnvDuration("BATCH_MAX_WAIT", 5*time.Second),
		},

		Metric: MetricConfig{
			DebounceWindow: getEnvDuration("METRIC_DEBOUNCE_WINDOW", time.Second),
			CacheTTL:       getEnvDuration("METRIC_CACHE_TTL", 30*time.Second),
		},

		Anomaly: AnomalyConfig{
			AlertCooldown: getEnvDuration("ANOMALY_ALERT_COOLDOWN", time.Hour),
		},

		Delivery: DeliveryConfig{
			BaseRetryDelay:        getEnvDuration("DELIVERY_BASE_RETRY_DELAY", 60*time.Second),
			MaxRetries:            getEnvInt("DELIVERY_MAX_RETRIES", 3),
			AttemptTimeout:        getEnvDuration("DELIVERY_ATTEMPT_TIMEOUT", 30*time.Second),
			SchedulerPollInterval: getEnvDuration("DELIVERY_SCHEDULER_POLL_INTERVAL", 10*time.Second),
		},

		DevMode: getEnvBool("DEV_MODE", false),
	}

	return cfg, nil
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSlice returns the environment variable as a comma-separated slice or a default
func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
