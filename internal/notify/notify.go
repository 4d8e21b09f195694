// Package notify turns metric changes and detected anomalies into
// notifications and fans them out to registered callbacks.
package notify

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.pulsegate.dev/internal/common/tsid"
	"go.pulsegate.dev/internal/emitter"
	"go.pulsegate.dev/internal/event"
)

// Type classifies a notification
type Type string

const (
	TypeWarning  Type = "warning"
	TypeCritical Type = "critical"
)

// Source records what produced a notification
type Source string

const (
	SourceMetricChange Source = "metric_change"
	SourceAnomaly      Source = "anomaly"
)

// Direction restricts which way a metric change must move to notify
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
	DirectionAny   Direction = "any"
)

// Threshold defines when a metric change produces a notification.
// Configured independently of anomaly detection thresholds.
type Threshold struct {
	// MetricName is the metric this threshold applies to
	MetricName string `json:"metricName"`

	// WarningThreshold is the absolute change percent for a warning
	WarningThreshold float64 `json:"warningThreshold"`

	// CriticalThreshold is the absolute change percent for a critical
	CriticalThreshold float64 `json:"criticalThreshold"`

	// Direction filters which way the change must move
	Direction Direction `json:"direction"`

	// Period suppresses repeat notifications for the same metric within
	// the window; zero disables suppression
	Period time.Duration `json:"period"`
}

// MetricNotification is a single notification handed to callbacks
type MetricNotification struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspaceId"`
	Type          Type      `json:"type"`
	Source        Source    `json:"source"`
	MetricName    string    `json:"metricName"`
	CurrentValue  float64   `json:"currentValue"`
	PreviousValue float64   `json:"previousValue"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

// Callback receives one notification
type Callback func(ctx context.Context, n *MetricNotification)

// Service evaluates notification thresholds against realtime events and
// invokes registered callbacks sequentially, isolating each callback so
// one failure never blocks the rest.
type Service struct {
	bus  *emitter.Emitter
	subs []*emitter.Subscription

	mu        sync.Mutex
	defaults  map[string]Threshold
	overrides map[string]map[string]Threshold
	lastSent  map[string]time.Time
	callbacks []Callback

	now func() time.Time
}

// NewService creates a notification trigger service
func NewService(bus *emitter.Emitter) *Service {
	return &Service{
		bus:       bus,
		defaults:  make(map[string]Threshold),
		overrides: make(map[string]map[string]Threshold),
		lastSent:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetDefaultThreshold configures the fallback threshold for a metric
func (s *Service) SetDefaultThreshold(t Threshold) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[t.MetricName] = t
}

// SetWorkspaceThreshold configures a workspace-specific threshold,
// shadowing the default for that metric.
func (s *Service) SetWorkspaceThreshold(workspaceID string, t Threshold) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.overrides[workspaceID] == nil {
		s.overrides[workspaceID] = make(map[string]Threshold)
	}
	s.overrides[workspaceID][t.MetricName] = t
}

// RegisterCallback adds a callback invoked for every notification
func (s *Service) RegisterCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Start subscribes the service to metric update and anomaly events
func (s *Service) Start() {
	s.subs = append(s.subs,
		s.bus.Subscribe(event.TypeMetricsUpdated, s.handleMetricUpdate),
		s.bus.Subscribe(event.TypeAnomalyDetected, s.handleAnomaly),
	)
	slog.Info("Notification trigger service started")
}

// Stop unsubscribes the service
func (s *Service) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	slog.Info("Notification trigger service stopped")
}

// handleMetricUpdate evaluates one metrics.updated event
func (s *Service) handleMetricUpdate(ctx context.Context, ev *event.RealtimeEvent) {
	metricName, _ := ev.Data["metricName"].(string)
	if metricName == "" {
		return
	}
	previous, _ := floatField(ev.Data, "previousValue")
	current, _ := floatField(ev.Data, "currentValue")
	changePercent, ok := floatField(ev.Data, "changePercent")
	if !ok {
		return
	}

	threshold, ok := s.threshold(ev.WorkspaceID, metricName)
	if !ok {
		return
	}
	notifType, breached := evaluate(threshold, changePercent)
	if !breached {
		return
	}
	if !s.claimPeriod(ev.WorkspaceID, metricName, SourceMetricChange, threshold.Period) {
		return
	}

	s.dispatch(ctx, &MetricNotification{
		ID:            tsid.GenerateWithPrefix(tsid.PrefixNotification),
		WorkspaceID:   ev.WorkspaceID,
		Type:          notifType,
		Source:        SourceMetricChange,
		MetricName:    metricName,
		CurrentValue:  current,
		PreviousValue: previous,
		ChangePercent: changePercent,
		Timestamp:     s.now(),
	})
}

// handleAnomaly converts one anomaly.detected event into a notification.
// The detector already classified the change, so no threshold evaluation
// happens here; critical severity maps to critical, the rest to warning.
func (s *Service) handleAnomaly(ctx context.Context, ev *event.RealtimeEvent) {
	metricName, _ := ev.Data["metricName"].(string)
	if metricName == "" {
		return
	}
	previous, _ := floatField(ev.Data, "previousValue")
	current, _ := floatField(ev.Data, "currentValue")
	changePercent, _ := floatField(ev.Data, "changePercent")

	notifType := TypeWarning
	if severity, _ := ev.Data["severity"].(string); severity == "critical" {
		notifType = TypeCritical
	}

	s.dispatch(ctx, &MetricNotification{
		ID:            tsid.GenerateWithPrefix(tsid.PrefixNotification),
		WorkspaceID:   ev.WorkspaceID,
		Type:          notifType,
		Source:        SourceAnomaly,
		MetricName:    metricName,
		CurrentValue:  current,
		PreviousValue: previous,
		ChangePercent: changePercent,
		Timestamp:     s.now(),
	})
}

// dispatch invokes every registered callback in registration order.
// A panicking callback is recovered and logged; siblings still run.
func (s *Service) dispatch(ctx context.Context, n *MetricNotification) {
	s.mu.Lock()
	callbacks := append([]Callback{}, s.callbacks...)
	s.mu.Unlock()

	slog.Info("Notification triggered",
		"notificationId", n.ID,
		"workspaceId", n.WorkspaceID,
		"type", n.Type,
		"source", n.Source,
		"metricName", n.MetricName,
		"changePercent", n.ChangePercent)

	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Notification callback panicked",
						"notificationId", n.ID,
						"callbackIndex", i,
						"panic", r)
				}
			}()
			cb(ctx, n)
		}()
	}
}

// threshold resolves the workspace override, falling back to the default
func (s *Service) threshold(workspaceID, metricName string) (Threshold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ws, ok := s.overrides[workspaceID]; ok {
		if t, ok := ws[metricName]; ok {
			return t, true
		}
	}
	t, ok := s.defaults[metricName]
	return t, ok
}

// claimPeriod stamps the suppression window for the key if it is open
func (s *Service) claimPeriod(workspaceID, metricName string, source Source, period time.Duration) bool {
	if period <= 0 {
		return true
	}
	key := workspaceID + ":" + metricName + ":" + string(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.lastSent[key]; ok && now.Sub(last) < period {
		return false
	}
	s.lastSent[key] = now
	return true
}

// evaluate maps a metric change to a notification type
func evaluate(t Threshold, changePercent float64) (Type, bool) {
	switch t.Direction {
	case DirectionAbove:
		if changePercent <= 0 {
			return "", false
		}
	case DirectionBelow:
		if changePercent >= 0 {
			return "", false
		}
	}

	// Threshold values are magnitudes; the sign of a configured value is
	// ignored, with direction carried by Threshold.Direction
	magnitude := math.Abs(changePercent)
	warning := math.Abs(t.WarningThreshold)
	critical := math.Abs(t.CriticalThreshold)
	switch {
	case critical > 0 && magnitude >= critical:
		return TypeCritical, true
	case warning > 0 && magnitude >= warning:
		return TypeWarning, true
	}
	return "", false
}

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
