// Package anomaly watches metric changes and records the ones that cross
// configured thresholds, with a cooldown so one incident does not produce
// a stream of duplicate records.
package anomaly

import (
	"context"
	"errors"
	"time"
)

// Severity classifies how far past its threshold a metric moved
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Direction restricts which way a metric change must move to count
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionBoth     Direction = "both"
)

// MetricThreshold defines when a metric change becomes an anomaly
type MetricThreshold struct {
	// WarningThreshold is the absolute change percent for high severity
	WarningThreshold float64 `bson:"warningThreshold" json:"warningThreshold"`

	// CriticalThreshold is the absolute change percent for critical severity
	CriticalThreshold float64 `bson:"criticalThreshold" json:"criticalThreshold"`

	// Direction filters which way the change must move
	Direction Direction `bson:"direction" json:"direction"`
}

// Record is a persisted anomaly detection
type Record struct {
	// ID is the unique identifier (TSID format, anm_ prefix)
	ID string `bson:"_id" json:"id"`

	// WorkspaceID is the owning workspace
	WorkspaceID string `bson:"workspaceId" json:"workspaceId"`

	// MetricName is the metric that moved
	MetricName string `bson:"metricName" json:"metricName"`

	// Severity is the classification of the change
	Severity Severity `bson:"severity" json:"severity"`

	// PreviousValue is the metric value before the change
	PreviousValue float64 `bson:"previousValue" json:"previousValue"`

	// CurrentValue is the metric value after the change
	CurrentValue float64 `bson:"currentValue" json:"currentValue"`

	// ChangePercent is the relative change that triggered detection
	ChangePercent float64 `bson:"changePercent" json:"changePercent"`

	// DetectedAt is when the anomaly was detected
	DetectedAt time.Time `bson:"detectedAt" json:"detectedAt"`
}

// ErrNotFound - no anomaly record matches the query
var ErrNotFound = errors.New("anomaly record not found")

// Repository stores anomaly records
type Repository interface {
	// Insert persists a new anomaly record
	Insert(ctx context.Context, rec *Record) error

	// FindByID looks up a record by its ID. Returns ErrNotFound when absent.
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindByWorkspace returns records for a workspace since the given time,
	// newest first, bounded by limit.
	FindByWorkspace(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*Record, error)
}
