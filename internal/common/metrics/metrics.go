// Package metrics defines Prometheus metrics for the event pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics

	// GatewayWebhooksReceived tracks inbound webhooks by provider and action
	GatewayWebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "gateway",
			Name:      "webhooks_received_total",
			Help:      "Total inbound webhooks received",
		},
		[]string{"provider", "action"}, // action: processed, skipped, duplicate, rejected, failed
	)

	// GatewayVerificationFailures tracks signature verification failures
	GatewayVerificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "gateway",
			Name:      "verification_failures_total",
			Help:      "Total signature verification failures",
		},
		[]string{"provider", "reason"},
	)

	// GatewayProcessingDuration tracks end-to-end webhook handling duration
	GatewayProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulsegate",
			Subsystem: "gateway",
			Name:      "processing_duration_seconds",
			Help:      "Time to verify, persist and process an inbound webhook",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Emitter metrics

	// EmitterEventsEmitted tracks realtime events emitted by type
	EmitterEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "emitter",
			Name:      "events_emitted_total",
			Help:      "Total realtime events emitted",
		},
		[]string{"type"},
	)

	// EmitterSubscriberPanics tracks recovered subscriber panics
	EmitterSubscriberPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "emitter",
			Name:      "subscriber_panics_total",
			Help:      "Total subscriber callbacks that panicked and were recovered",
		},
	)

	// EmitterActiveSubscriptions tracks live subscriptions
	EmitterActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulsegate",
			Subsystem: "emitter",
			Name:      "active_subscriptions",
			Help:      "Number of active realtime event subscriptions",
		},
	)

	// Batch metrics

	// BatchFlushes tracks batch flushes by trigger
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "batch",
			Name:      "flushes_total",
			Help:      "Total batch flushes",
		},
		[]string{"trigger"}, // trigger: size, timer, shutdown
	)

	// BatchSize observes flushed batch sizes
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pulsegate",
			Subsystem: "batch",
			Name:      "flush_size",
			Help:      "Number of events per flushed batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	// BatchOpenBatches tracks currently accumulating batches
	BatchOpenBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulsegate",
			Subsystem: "batch",
			Name:      "open_batches",
			Help:      "Number of open per-workspace batches",
		},
	)

	// Metric service metrics

	// MetricRecalculations tracks recalculation runs by outcome
	MetricRecalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "metricsvc",
			Name:      "recalculations_total",
			Help:      "Total metric recalculation runs",
		},
		[]string{"result"}, // result: success, error
	)

	// MetricDebounceAbsorbed tracks requests absorbed into a pending debounce window
	MetricDebounceAbsorbed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "metricsvc",
			Name:      "debounce_absorbed_total",
			Help:      "Total recalculation requests absorbed into an open debounce window",
		},
	)

	// MetricCacheHits tracks metric cache hits and misses
	MetricCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "metricsvc",
			Name:      "cache_requests_total",
			Help:      "Total metric cache lookups",
		},
		[]string{"result"}, // result: hit, miss, expired
	)

	// Anomaly metrics

	// AnomaliesDetected tracks detected anomalies by severity
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Total anomalies detected",
		},
		[]string{"severity"},
	)

	// AnomaliesSuppressed tracks anomalies suppressed by cooldown
	AnomaliesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "anomaly",
			Name:      "suppressed_total",
			Help:      "Total anomalies suppressed by the alert cooldown",
		},
	)

	// Delivery metrics

	// DeliveryAttempts tracks outbound delivery attempts by result
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsegate",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Total outbound webhook delivery attempts",
		},
		[]string{"result"}, // result: success, retrying, failed, rate_limited, breaker_open
	)

	// DeliveryDuration tracks outbound POST duration
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pulsegate",
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Outbound webhook POST duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// DeliveryCircuitBreakerState tracks breaker state per endpoint
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	DeliveryCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pulsegate",
			Subsystem: "delivery",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per endpoint (0=closed, 1=open, 2=half-open)",
		},
		[]string{"endpoint_id"},
	)

	// DeliveriesPending tracks deliveries awaiting a retry
	DeliveriesPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulsegate",
			Subsystem: "delivery",
			Name:      "pending",
			Help:      "Number of deliveries pending or awaiting retry",
		},
	)
)

// Circuit breaker state values for DeliveryCircuitBreakerState
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
