package delivery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.pulsegate.dev/internal/common/metrics"
)

// SchedulerConfig holds retry scheduler configuration
type SchedulerConfig struct {
	// PollInterval is how often due retries are picked up
	PollInterval time.Duration

	// BatchLimit bounds deliveries processed per poll
	BatchLimit int
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PollInterval: 10 * time.Second,
		BatchLimit:   100,
	}
}

// Scheduler polls for deliveries whose retry time has arrived and runs
// them through the delivery service.
type Scheduler struct {
	config     *SchedulerConfig
	service    *Service
	deliveries DeliveryRepository
	endpoints  EndpointRepository

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewScheduler creates a retry scheduler
func NewScheduler(config *SchedulerConfig, service *Service, deliveries DeliveryRepository, endpoints EndpointRepository) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		config:     config,
		service:    service,
		deliveries: deliveries,
		endpoints:  endpoints,
	}
}

// Start launches the polling loop
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.poll(ctx)
			}
		}
	}()

	slog.Info("Delivery retry scheduler started",
		"pollInterval", s.config.PollInterval,
		"batchLimit", s.config.BatchLimit)
}

// poll processes one batch of due retries
func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.deliveries.FindDue(ctx, time.Now(), s.config.BatchLimit)
	if err != nil {
		slog.Error("Failed to query due deliveries", "error", err)
		return
	}

	for _, d := range due {
		if ctx.Err() != nil {
			return
		}

		endpoint, err := s.endpoints.FindByID(ctx, d.EndpointID)
		if err != nil {
			d.Status = StatusFailed
			d.LastError = "endpoint not found"
			if err := s.deliveries.Update(ctx, d); err != nil {
				slog.Error("Failed to fail orphaned delivery",
					"deliveryId", d.ID,
					"error", err)
			}
			continue
		}

		if err := s.service.ProcessDelivery(ctx, endpoint, d, s.deliveries.Update); err != nil {
			slog.Error("Failed to persist delivery state",
				"deliveryId", d.ID,
				"error", err)
		}
	}

	if pending, err := s.deliveries.CountPending(ctx); err == nil {
		metrics.DeliveriesPending.Set(float64(pending))
	}
}

// IsRunning reports whether the polling loop is active
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Stop halts polling and waits for the in-flight poll to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
	slog.Info("Delivery retry scheduler stopped")
}
