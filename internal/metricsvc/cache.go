package metricsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pulsegate.dev/internal/common/metrics"
)

// CachedMetrics is one workspace's cached metric values
type CachedMetrics struct {
	WorkspaceID string             `json:"workspaceId"`
	Metrics     map[string]float64 `json:"metrics"`
	LastUpdated time.Time          `json:"lastUpdated"`
	TTL         time.Duration      `json:"ttl"`
}

// Cache stores computed metrics per workspace with a TTL.
// A read past the TTL is treated as absent; implementations evict lazily.
type Cache interface {
	// Get returns the cached entry if present and fresh
	Get(ctx context.Context, workspaceID string) (*CachedMetrics, bool)

	// Set stores metric values for a workspace, resetting its TTL clock
	Set(ctx context.Context, workspaceID string, values map[string]float64) error

	// Evict removes a workspace's entry
	Evict(ctx context.Context, workspaceID string) error
}

// MemoryCache is the default in-process TTL cache
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]*CachedMetrics
	now     func() time.Time
}

// NewMemoryCache creates an in-memory metric cache
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]*CachedMetrics),
		now:     time.Now,
	}
}

// Get returns the cached entry if present and fresh.
// A stale entry is evicted and reported absent - no explicit invalidation
// call is needed.
func (c *MemoryCache) Get(ctx context.Context, workspaceID string) (*CachedMetrics, bool) {
	c.mu.RLock()
	entry, ok := c.entries[workspaceID]
	c.mu.RUnlock()

	if !ok {
		metrics.MetricCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}

	if c.now().Sub(entry.LastUpdated) > entry.TTL {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it
		if current, still := c.entries[workspaceID]; still && c.now().Sub(current.LastUpdated) > current.TTL {
			delete(c.entries, workspaceID)
		}
		c.mu.Unlock()
		metrics.MetricCacheHits.WithLabelValues("expired").Inc()
		return nil, false
	}

	metrics.MetricCacheHits.WithLabelValues("hit").Inc()
	copied := *entry
	copied.Metrics = copyValues(entry.Metrics)
	return &copied, true
}

// Set stores metric values for a workspace
func (c *MemoryCache) Set(ctx context.Context, workspaceID string, values map[string]float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[workspaceID] = &CachedMetrics{
		WorkspaceID: workspaceID,
		Metrics:     copyValues(values),
		LastUpdated: c.now(),
		TTL:         c.ttl,
	}
	return nil
}

// Evict removes a workspace's entry
func (c *MemoryCache) Evict(ctx context.Context, workspaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, workspaceID)
	return nil
}

func copyValues(values map[string]float64) map[string]float64 {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return copied
}

// RedisCache stores metrics in Redis with a server-side TTL.
// Used when multiple instances should share a warm cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed metric cache
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(workspaceID string) string {
	return "pulsegate:metrics:" + workspaceID
}

// Get returns the cached entry if Redis still holds it
func (c *RedisCache) Get(ctx context.Context, workspaceID string) (*CachedMetrics, bool) {
	raw, err := c.client.Get(ctx, redisKey(workspaceID)).Bytes()
	if err == redis.Nil {
		metrics.MetricCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		slog.Warn("Redis metric cache read failed",
			"workspaceId", workspaceID,
			"error", err)
		metrics.MetricCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}

	var entry CachedMetrics
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.Warn("Redis metric cache entry corrupt, evicting",
			"workspaceId", workspaceID,
			"error", err)
		c.client.Del(ctx, redisKey(workspaceID))
		metrics.MetricCacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.MetricCacheHits.WithLabelValues("hit").Inc()
	return &entry, true
}

// Set stores metric values with the configured TTL
func (c *RedisCache) Set(ctx context.Context, workspaceID string, values map[string]float64) error {
	entry := CachedMetrics{
		WorkspaceID: workspaceID,
		Metrics:     values,
		LastUpdated: time.Now(),
		TTL:         c.ttl,
	}

	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal cached metrics: %w", err)
	}

	if err := c.client.Set(ctx, redisKey(workspaceID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write metric cache: %w", err)
	}
	return nil
}

// Evict removes a workspace's entry
func (c *RedisCache) Evict(ctx context.Context, workspaceID string) error {
	return c.client.Del(ctx, redisKey(workspaceID)).Err()
}
