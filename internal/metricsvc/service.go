// Package metricsvc recomputes workspace metrics on demand, debouncing
// bursts of requests and caching results with a short TTL. Changed values
// are announced as "metrics.updated" realtime events.
package metricsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.pulsegate.dev/internal/common/metrics"
	"go.pulsegate.dev/internal/event"
)

// ErrShutdown is returned once Shutdown has begun
var ErrShutdown = errors.New("metric service is shut down")

// Priority orders concurrent recalculation requests for the same key.
// A higher-priority request absorbed into a pending one upgrades it
// without resetting the debounce timer.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// EventEmitter publishes realtime events
type EventEmitter interface {
	Emit(ctx context.Context, ev *event.RealtimeEvent)
}

// Request asks for a recalculation of a workspace's metrics
type Request struct {
	// WorkspaceID is the workspace to recompute
	WorkspaceID string

	// MetricNames limits the recalculation; empty means all metrics
	MetricNames []string

	// TriggeredBy records what caused the request, for logging
	TriggeredBy string

	// Priority orders coalesced requests
	Priority Priority
}

// Config holds metric service configuration
type Config struct {
	// DebounceWindow is how long a request waits for coalescing peers
	DebounceWindow time.Duration

	// ComputeTimeout bounds a single recalculation
	ComputeTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DebounceWindow: time.Second,
		ComputeTimeout: 10 * time.Second,
	}
}

// pendingRecalc is a debounced recalculation waiting for its window to close
type pendingRecalc struct {
	workspaceID string
	metricNames []string
	priority    Priority
	timer       *time.Timer

	// done closes when the recalculation finishes (or is cancelled)
	done   chan struct{}
	result map[string]float64
	err    error
}

// Service debounces and executes metric recalculations.
// Requests for the same workspace and metric set within the debounce
// window collapse into one computation.
type Service struct {
	config   *Config
	cache    Cache
	computer Computer
	emitter  EventEmitter

	mu      sync.Mutex
	pending map[string]*pendingRecalc
	closed  bool

	wg sync.WaitGroup
}

// NewService creates a metric recalculation service
func NewService(config *Config, cache Cache, computer Computer, emitter EventEmitter) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:   config,
		cache:    cache,
		computer: computer,
		emitter:  emitter,
		pending:  make(map[string]*pendingRecalc),
	}
}

// RequestRecalculation schedules a recalculation. Empty MetricNames means
// all known metrics. The call returns immediately; the computation runs
// after the debounce window closes. A request matching an already pending
// key is absorbed, upgrading its priority if higher but never resetting
// the timer.
func (s *Service) RequestRecalculation(ctx context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}
	_, err := s.enqueueLocked(req)
	return err
}

// enqueueLocked finds or creates the pending recalculation for the key.
// Caller must hold s.mu.
func (s *Service) enqueueLocked(req Request) (*pendingRecalc, error) {
	names := normalizeNames(req.MetricNames)
	key := req.WorkspaceID + "|" + strings.Join(names, ",")

	if pr, ok := s.pending[key]; ok {
		if req.Priority > pr.priority {
			pr.priority = req.Priority
		}
		metrics.MetricDebounceAbsorbed.Inc()
		return pr, nil
	}

	slog.Debug("Metric recalculation scheduled",
		"workspaceId", req.WorkspaceID,
		"metrics", names,
		"triggeredBy", req.TriggeredBy,
		"priority", req.Priority.String())

	pr := &pendingRecalc{
		workspaceID: req.WorkspaceID,
		metricNames: names,
		priority:    req.Priority,
		done:        make(chan struct{}),
	}
	pr.timer = time.AfterFunc(s.config.DebounceWindow, func() {
		s.run(key)
	})
	s.pending[key] = pr
	return pr, nil
}

// run executes a pending recalculation after its debounce window closed
func (s *Service) run(key string) {
	s.mu.Lock()
	pr, ok := s.pending[key]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer close(pr.done)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ComputeTimeout)
	defer cancel()

	values, err := s.computer.Compute(ctx, pr.workspaceID, pr.metricNames)
	if err != nil {
		pr.err = fmt.Errorf("recalculate metrics: %w", err)
		metrics.MetricRecalculations.WithLabelValues("error").Inc()
		slog.Error("Metric recalculation failed",
			"workspaceId", pr.workspaceID,
			"metrics", pr.metricNames,
			"priority", pr.priority.String(),
			"error", err)
		return
	}

	previous, hadCache := s.cache.Get(ctx, pr.workspaceID)
	merged := values
	if hadCache {
		// Carry forward cached values for metrics outside this request so a
		// partial recalculation does not erase the rest of the entry
		merged = copyValues(previous.Metrics)
		for name, v := range values {
			merged[name] = v
		}
	}
	if err := s.cache.Set(ctx, pr.workspaceID, merged); err != nil {
		slog.Warn("Metric cache write failed",
			"workspaceId", pr.workspaceID,
			"error", err)
	}

	pr.result = values
	metrics.MetricRecalculations.WithLabelValues("success").Inc()

	s.emitChanges(ctx, pr.workspaceID, previous, values, hadCache)
}

// emitChanges publishes one metrics.updated event per changed metric
func (s *Service) emitChanges(ctx context.Context, workspaceID string, previous *CachedMetrics, values map[string]float64, hadCache bool) {
	if s.emitter == nil {
		return
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		current := values[name]
		var prev float64
		if hadCache {
			prev = previous.Metrics[name]
		}
		if current == prev {
			continue
		}

		s.emitter.Emit(ctx, event.NewRealtimeEvent(event.TypeMetricsUpdated, workspaceID, map[string]any{
			"metricName":    name,
			"previousValue": prev,
			"currentValue":  current,
			"changePercent": changePercent(prev, current),
		}))
	}
}

// changePercent is the relative change from prev to current.
// A change from zero reports 100 percent regardless of magnitude.
func changePercent(prev, current float64) float64 {
	if prev == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (current - prev) / math.Abs(prev) * 100
}

// CachedMetrics returns the workspace's cached entry if present and fresh
func (s *Service) CachedMetrics(ctx context.Context, workspaceID string) (*CachedMetrics, bool) {
	return s.cache.Get(ctx, workspaceID)
}

// Metrics returns the workspace's metric values, computing them if the
// cache is cold. The call blocks until values are available.
func (s *Service) Metrics(ctx context.Context, workspaceID string) (map[string]float64, error) {
	if cached, ok := s.cache.Get(ctx, workspaceID); ok {
		return cached.Metrics, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShutdown
	}
	pr, err := s.enqueueLocked(Request{
		WorkspaceID: workspaceID,
		TriggeredBy: "metrics-read",
		Priority:    PriorityHigh,
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-pr.done:
		if pr.err != nil {
			return nil, pr.err
		}
		return pr.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of debounced recalculations not yet run
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels pending debounce timers and waits for in-flight
// recalculations to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	for key, pr := range s.pending {
		pr.timer.Stop()
		pr.err = ErrShutdown
		close(pr.done)
		delete(s.pending, key)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Metric service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("metric service drain interrupted: %w", ctx.Err())
	}
}

// normalizeNames sorts and deduplicates the requested metric names,
// defaulting to all known metrics when empty.
func normalizeNames(metricNames []string) []string {
	if len(metricNames) == 0 {
		metricNames = AllMetrics
	}
	seen := make(map[string]struct{}, len(metricNames))
	names := make([]string, 0, len(metricNames))
	for _, name := range metricNames {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
