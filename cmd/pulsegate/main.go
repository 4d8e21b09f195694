// Pulsegate ingests provider webhooks, turns them into realtime events and
// drives metric recalculation, anomaly detection, notifications and signed
// outbound deliveries.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"go.pulsegate.dev/internal/anomaly"
	"go.pulsegate.dev/internal/batch"
	"go.pulsegate.dev/internal/common/health"
	pgmongo "go.pulsegate.dev/internal/common/mongo"
	"go.pulsegate.dev/internal/common/secrets"
	"go.pulsegate.dev/internal/config"
	"go.pulsegate.dev/internal/delivery"
	"go.pulsegate.dev/internal/emitter"
	"go.pulsegate.dev/internal/event"
	"go.pulsegate.dev/internal/gateway"
	"go.pulsegate.dev/internal/metricsvc"
	"go.pulsegate.dev/internal/notify"
	"go.pulsegate.dev/internal/processor"
	"go.pulsegate.dev/internal/verifier"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Pulsegate exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg.DevMode)
	slog.Info("Starting Pulsegate", "devMode", cfg.DevMode, "port", cfg.HTTP.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	// Storage: Mongo in production, in-memory in dev mode
	var (
		events      event.Repository
		anomalies   anomaly.Repository
		endpoints   delivery.EndpointRepository
		deliveries  delivery.DeliveryRepository
		mongoClient *pgmongo.Client
	)
	if cfg.DevMode {
		slog.Warn("Dev mode: using in-memory repositories, nothing survives a restart")
		events = event.NewMemoryRepository()
		anomalies = anomaly.NewMemoryRepository()
		endpoints = delivery.NewMemoryEndpointRepository()
		deliveries = delivery.NewMemoryDeliveryRepository()
	} else {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		mongoClient, err = pgmongo.Connect(connectCtx, pgmongo.Config{
			URI:      cfg.MongoDB.URI,
			Database: cfg.MongoDB.Database,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(disconnectCtx); err != nil {
				slog.Warn("MongoDB disconnect failed", "error", err)
			}
		}()

		if err := pgmongo.NewIndexInitializer(mongoClient).Initialize(ctx); err != nil {
			return fmt.Errorf("initialize indexes: %w", err)
		}

		events = event.NewMongoRepository(mongoClient.Database())
		anomalies = anomaly.NewMongoRepository(mongoClient.Database())
		endpoints = delivery.NewMongoEndpointRepository(mongoClient.Database())
		deliveries = delivery.NewMongoDeliveryRepository(mongoClient.Database())

		checker.AddReadinessCheck(health.MongoDBCheck(func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return mongoClient.Ping(pingCtx)
		}))
	}

	// Signing secrets: config file entries first, environment fallback
	staticSecrets := map[string]string{}
	for provider, secret := range cfg.Secrets.Signing {
		staticSecrets[secrets.SigningSecretKey(provider)] = secret
	}
	secretsProvider := secrets.NewChain(
		secrets.NewStaticProvider(staticSecrets),
		secrets.NewEnvProvider(cfg.Secrets.EnvPrefix),
	)

	// Realtime event bus, optionally bridged to NATS
	bus := emitter.New()

	var bridge *emitter.Bridge
	if cfg.NATS.Enabled {
		bridge = emitter.NewBridge(&emitter.BridgeConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err := bridge.Start(bus); err != nil {
			return fmt.Errorf("start NATS bridge: %w", err)
		}
		defer bridge.Stop()
		checker.AddReadinessCheck(health.NATSCheck(bridge.IsConnected))
	}

	// Metric service over the chosen cache backend
	var cache metricsvc.Cache
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		cache = metricsvc.NewRedisCache(redisClient, cfg.Metric.CacheTTL)
		checker.AddReadinessCheck(health.RedisCheck(func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(pingCtx).Err()
		}))
	} else {
		cache = metricsvc.NewMemoryCache(cfg.Metric.CacheTTL)
	}

	metricSvc := metricsvc.NewService(
		&metricsvc.Config{DebounceWindow: cfg.Metric.DebounceWindow, ComputeTimeout: 10 * time.Second},
		cache,
		metricsvc.NewEventComputer(events, 24*time.Hour),
		bus,
	)
	defer shutdownWithTimeout("metric service", metricSvc.Shutdown)

	// Anomaly detection on metric changes
	detector := anomaly.NewDetector(&anomaly.Config{Cooldown: cfg.Anomaly.AlertCooldown}, anomalies, bus)
	for _, name := range metricsvc.AllMetrics {
		detector.SetDefaultThreshold(name, anomaly.MetricThreshold{
			WarningThreshold:  25,
			CriticalThreshold: 50,
			Direction:         anomaly.DirectionBoth,
		})
	}
	detector.Start()
	defer detector.Stop()

	// Outbound delivery with retry scheduling
	deliverySvc := delivery.NewService(&delivery.Config{
		BaseRetryDelay: cfg.Delivery.BaseRetryDelay,
		MaxRetries:     cfg.Delivery.MaxRetries,
		AttemptTimeout: cfg.Delivery.AttemptTimeout,
	}, secretsProvider)

	dispatcher := delivery.NewDispatcher(deliverySvc, endpoints, deliveries)

	scheduler := delivery.NewScheduler(
		&delivery.SchedulerConfig{PollInterval: cfg.Delivery.SchedulerPollInterval, BatchLimit: 100},
		deliverySvc, deliveries, endpoints,
	)
	scheduler.Start(ctx)
	defer scheduler.Stop()
	checker.AddLivenessCheck(health.SchedulerCheck(scheduler.IsRunning))

	// Notifications fan out to delivery endpoints
	notifySvc := notify.NewService(bus)
	for _, name := range metricsvc.AllMetrics {
		notifySvc.SetDefaultThreshold(notify.Threshold{
			MetricName:        name,
			WarningThreshold:  25,
			CriticalThreshold: 50,
			Direction:         notify.DirectionAny,
			Period:            15 * time.Minute,
		})
	}
	notifySvc.RegisterCallback(func(ctx context.Context, n *notify.MetricNotification) {
		payload, err := notificationPayload(n)
		if err != nil {
			slog.Error("Failed to encode notification", "notificationId", n.ID, "error", err)
			return
		}
		if _, err := dispatcher.Dispatch(ctx, n.WorkspaceID, "notification."+string(n.Type), payload); err != nil {
			slog.Error("Failed to dispatch notification",
				"notificationId", n.ID,
				"workspaceId", n.WorkspaceID,
				"error", err)
		}
	})
	notifySvc.Start()
	defer notifySvc.Stop()

	// Batch realtime events per workspace; a flush nudges recalculation
	batchProc := batch.NewProcessor(
		&batch.Config{MaxBatchSize: cfg.Batch.MaxBatchSize, MaxWaitTime: cfg.Batch.MaxWaitTime},
		func(ctx context.Context, b *batch.Batch) error {
			return metricSvc.RequestRecalculation(ctx, metricsvc.Request{
				WorkspaceID: b.WorkspaceID,
				TriggeredBy: "batch-flush",
				Priority:    metricsvc.PriorityNormal,
			})
		},
	)
	defer shutdownWithTimeout("batch processor", batchProc.Shutdown)

	bus.Subscribe(emitter.Wildcard, func(ctx context.Context, ev *event.RealtimeEvent) {
		// Pipeline-internal events never re-enter the batch
		if ev.Type == event.TypeMetricsUpdated || ev.Type == event.TypeAnomalyDetected {
			return
		}
		if err := batchProc.AddEvent(ctx, ev); err != nil {
			slog.Warn("Failed to batch event", "eventId", ev.ID, "error", err)
		}
	})

	// Inbound gateway
	connectors := gateway.NewMemoryConnectorResolver()
	registerDevConnectors(cfg, connectors)

	gatewaySvc := gateway.NewService(
		verifier.NewRegistry(
			verifier.NewStripeVerifier(),
			verifier.NewShopifyVerifier(),
			verifier.NewPayPalVerifier(),
		),
		processor.NewRegistry(
			processor.NewStripeProcessor(processor.NoopSyncService{}),
			processor.NewShopifyProcessor(processor.NoopSyncService{}),
			processor.NewPayPalProcessor(processor.NoopSyncService{}),
		),
		events,
		connectors,
		secretsProvider,
		bus,
	)
	gatewaySvc.AddReaction(func(ctx context.Context, ev *event.WebhookEvent, outcome *processor.Outcome) {
		if err := metricSvc.RequestRecalculation(ctx, metricsvc.Request{
			WorkspaceID: ev.WorkspaceID,
			TriggeredBy: "webhook:" + ev.EventType,
			Priority:    metricsvc.PriorityNormal,
		}); err != nil {
			slog.Warn("Failed to request recalculation", "eventId", ev.ID, "error", err)
		}
	})

	router := buildRouter(cfg, gatewaySvc, checker)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadWithFile(path)
	}
	return config.Load()
}

func setupLogging(devMode bool) {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}

func buildRouter(cfg *config.Config, gatewaySvc *gateway.Service, checker *health.Checker) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	gateway.NewHandler(gatewaySvc).RegisterRoutes(r)

	r.Get("/health", checker.HandleHealth)
	r.Get("/health/live", checker.HandleLive)
	r.Get("/health/ready", checker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// registerDevConnectors seeds one active connector per provider in dev
// mode so inbound webhooks route somewhere without a control plane.
func registerDevConnectors(cfg *config.Config, connectors *gateway.MemoryConnectorResolver) {
	if !cfg.DevMode {
		return
	}
	for _, provider := range []string{"stripe", "shopify", "paypal"} {
		connectors.Add(&gateway.Connector{
			ID:          "dev-" + provider,
			WorkspaceID: "dev",
			Provider:    provider,
			IsActive:    true,
		})
	}
}

// shutdownWithTimeout runs a component's Shutdown with a bounded context
func shutdownWithTimeout(name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("Component shutdown failed", "component", name, "error", err)
	}
}

func notificationPayload(n *notify.MetricNotification) ([]byte, error) {
	return json.Marshal(n)
}
