package anomaly

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.pulsegate.dev/internal/common/metrics"
	"go.pulsegate.dev/internal/common/tsid"
	"go.pulsegate.dev/internal/emitter"
	"go.pulsegate.dev/internal/event"
)

// Config holds anomaly detector configuration
type Config struct {
	// Cooldown suppresses repeat detections for the same workspace and metric
	Cooldown time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Cooldown: time.Hour,
	}
}

// Detector evaluates metric changes against configured thresholds.
// It subscribes to "metrics.updated" events and emits "anomaly.detected"
// when a change crosses a threshold outside the cooldown window.
type Detector struct {
	config *Config
	repo   Repository
	bus    *emitter.Emitter
	sub    *emitter.Subscription

	mu         sync.Mutex
	defaults   map[string]MetricThreshold
	overrides  map[string]map[string]MetricThreshold
	lastFiring map[string]time.Time

	now func() time.Time
}

// NewDetector creates an anomaly detector
func NewDetector(config *Config, repo Repository, bus *emitter.Emitter) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{
		config:     config,
		repo:       repo,
		bus:        bus,
		defaults:   make(map[string]MetricThreshold),
		overrides:  make(map[string]map[string]MetricThreshold),
		lastFiring: make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetDefaultThreshold configures the fallback threshold for a metric
func (d *Detector) SetDefaultThreshold(metricName string, threshold MetricThreshold) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaults[metricName] = threshold
}

// SetWorkspaceThreshold configures a workspace-specific threshold,
// shadowing the default for that metric.
func (d *Detector) SetWorkspaceThreshold(workspaceID, metricName string, threshold MetricThreshold) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.overrides[workspaceID] == nil {
		d.overrides[workspaceID] = make(map[string]MetricThreshold)
	}
	d.overrides[workspaceID][metricName] = threshold
}

// Start subscribes the detector to metric update events
func (d *Detector) Start() {
	d.sub = d.bus.Subscribe(event.TypeMetricsUpdated, d.handleMetricUpdate)
	slog.Info("Anomaly detector started", "cooldown", d.config.Cooldown)
}

// Stop unsubscribes the detector
func (d *Detector) Stop() {
	if d.sub != nil {
		d.sub.Unsubscribe()
		d.sub = nil
	}
	slog.Info("Anomaly detector stopped")
}

// Evaluate checks one metric change and records an anomaly if it crosses
// a threshold. Returns the record, or nil when no anomaly fired.
func (d *Detector) Evaluate(ctx context.Context, workspaceID, metricName string, previous, current, changePercent float64) *Record {
	threshold, ok := d.threshold(workspaceID, metricName)
	if !ok {
		return nil
	}

	if !directionMatches(threshold.Direction, changePercent) {
		return nil
	}

	severity, ok := classify(threshold, changePercent)
	if !ok {
		return nil
	}

	if !d.claimCooldown(workspaceID, metricName) {
		metrics.AnomaliesSuppressed.Inc()
		slog.Debug("Anomaly suppressed by cooldown",
			"workspaceId", workspaceID,
			"metricName", metricName,
			"changePercent", changePercent)
		return nil
	}

	rec := &Record{
		ID:            tsid.GenerateWithPrefix(tsid.PrefixAnomaly),
		WorkspaceID:   workspaceID,
		MetricName:    metricName,
		Severity:      severity,
		PreviousValue: previous,
		CurrentValue:  current,
		ChangePercent: changePercent,
		DetectedAt:    d.now(),
	}

	if err := d.repo.Insert(ctx, rec); err != nil {
		slog.Error("Failed to persist anomaly record",
			"workspaceId", workspaceID,
			"metricName", metricName,
			"error", err)
	}

	metrics.AnomaliesDetected.WithLabelValues(string(severity)).Inc()
	slog.Warn("Anomaly detected",
		"anomalyId", rec.ID,
		"workspaceId", workspaceID,
		"metricName", metricName,
		"severity", severity,
		"changePercent", changePercent)

	d.bus.Emit(ctx, event.NewRealtimeEvent(event.TypeAnomalyDetected, workspaceID, map[string]any{
		"anomalyId":     rec.ID,
		"metricName":    metricName,
		"severity":      string(severity),
		"previousValue": previous,
		"currentValue":  current,
		"changePercent": changePercent,
	}))
	return rec
}

// handleMetricUpdate evaluates one metrics.updated event
func (d *Detector) handleMetricUpdate(ctx context.Context, ev *event.RealtimeEvent) {
	metricName, ok := ev.Data["metricName"].(string)
	if !ok || metricName == "" {
		return
	}

	previous, _ := floatField(ev.Data, "previousValue")
	current, _ := floatField(ev.Data, "currentValue")
	changePercent, ok := floatField(ev.Data, "changePercent")
	if !ok {
		return
	}

	d.Evaluate(ctx, ev.WorkspaceID, metricName, previous, current, changePercent)
}

// threshold resolves the workspace override, falling back to the default
func (d *Detector) threshold(workspaceID, metricName string) (MetricThreshold, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ws, ok := d.overrides[workspaceID]; ok {
		if t, ok := ws[metricName]; ok {
			return t, true
		}
	}
	t, ok := d.defaults[metricName]
	return t, ok
}

// claimCooldown stamps the cooldown for the key if it is not active.
// Returns false when the key is still cooling down.
func (d *Detector) claimCooldown(workspaceID, metricName string) bool {
	key := workspaceID + ":" + metricName

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastFiring[key]; ok && now.Sub(last) < d.config.Cooldown {
		return false
	}
	d.lastFiring[key] = now
	return true
}

// floatField reads a numeric field out of event data.
// Events decoded from JSON carry float64; in-process ones may carry int.
func floatField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func directionMatches(direction Direction, changePercent float64) bool {
	switch direction {
	case DirectionIncrease:
		return changePercent > 0
	case DirectionDecrease:
		return changePercent < 0
	default:
		return true
	}
}

// classify maps the magnitude of a change to a severity.
// Threshold values are magnitudes; the sign of a configured value is
// ignored, with direction carried by MetricThreshold.Direction. Below
// 70 percent of the warning threshold nothing fires.
func classify(threshold MetricThreshold, changePercent float64) (Severity, bool) {
	magnitude := math.Abs(changePercent)
	warning := math.Abs(threshold.WarningThreshold)
	critical := math.Abs(threshold.CriticalThreshold)
	switch {
	case critical > 0 && magnitude >= critical:
		return SeverityCritical, true
	case warning > 0 && magnitude >= warning:
		return SeverityHigh, true
	case warning > 0 && magnitude >= 0.7*warning:
		return SeverityMedium, true
	}
	return "", false
}
