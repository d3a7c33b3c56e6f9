package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/telhawk-systems/telhawk-metrics/common/database"
	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging/memory"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/batch"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/bus"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/config"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/dlq"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/handlers"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/normalizer"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/processor"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/quota"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/ratelimit"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/server"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/service"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/storage"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/tenants"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/usage"

	natsclient "github.com/telhawk-systems/telhawk-metrics/common/messaging/nats"
)

// localDLQSize bounds the in-process dead-letter buffer used without NATS.
const localDLQSize = 1000

// directory is what the ingest service needs from the tenant store.
type directory interface {
	tenants.Directory
	Ping(ctx context.Context) error
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting Ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	formats, err := cfg.Ingestion.Formats()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	// Tenant directory
	dir, closeDir := openDirectory(cfg)
	cachedDir := tenants.NewCachedDirectory(dir, cfg.Tenants.CacheTTL)

	// OpenSearch time-series store
	store, err := storage.NewClient(storage.Config{
		URL:             cfg.OpenSearch.URL,
		Username:        cfg.OpenSearch.Username,
		Password:        cfg.OpenSearch.Password,
		TLSSkipVerify:   cfg.OpenSearch.TLSSkipVerify,
		IndexPrefix:     cfg.OpenSearch.IndexPrefix,
		ShardCount:      cfg.OpenSearch.ShardCount,
		ReplicaCount:    cfg.OpenSearch.ReplicaCount,
		RefreshInterval: "5s",
		MaxRetries:      cfg.OpenSearch.WriteRetries,
		RetryBackoff:    cfg.Batch.RetryBackoff,
		QueryTimeout:    cfg.OpenSearch.QueryTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create OpenSearch client: %v", err)
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := store.Initialize(initCtx); err != nil {
		slog.Warn("Failed to initialize OpenSearch; writes will be retried", logging.Error(err))
	}
	cancel()

	// Usage counters (Redis)
	counters, err := usage.NewClient(cfg.Redis.URL, instanceID)
	if err != nil {
		log.Fatalf("Failed to initialize usage counters: %v", err)
	}

	// Rate limiter (same Redis)
	rateLimiter, err := ratelimit.NewRedisRateLimiter(
		cfg.Redis.URL,
		cfg.Ingestion.RateLimitRequests,
		cfg.Ingestion.RateLimitWindow,
		!cfg.Ingestion.RateLimitEnabled,
	)
	if err != nil {
		slog.Warn("Failed to initialize rate limiter; continuing without rate limiting", logging.Error(err))
		rateLimiter = &ratelimit.NoOpRateLimiter{}
	}

	// Message bus and dead-letter queue
	client, deadLetters, stats := openBus(cfg, logger)
	decoupler := bus.New(client, deadLetters, logger, bus.Config{
		PublishTimeout: cfg.Bus.PublishTimeout,
		DLQTimeout:     cfg.Bus.PublishTimeout,
	})

	// Batching and writes
	acc := batch.NewAccumulator(batch.Config{
		Size:          cfg.Batch.Size,
		FlushInterval: cfg.Batch.FlushInterval(),
		MaxRetries:    cfg.Batch.MaxRetries,
		RetryBackoff:  cfg.Batch.RetryBackoff,
	})
	flusher := batch.NewFlusher(acc, store, logger, batch.FlusherConfig{
		Workers:      cfg.Batch.Workers,
		QueueSize:    cfg.Batch.QueueSize,
		WriteTimeout: cfg.Batch.WriteTimeout,
	})
	flusher.OnFlushed(service.CompletionHook(decoupler, counters, logger))
	flusher.Start()

	// Processing paths
	inline := processor.NewInline(normalizer.DefaultRegistry(), acc, counters, logger)
	queued := processor.NewQueued(decoupler, inline, logger)
	consumer := processor.NewConsumer(decoupler, inline, bus.Policy{
		MaxAttempts: cfg.Bus.MaxAttempts,
		RetryDelay:  cfg.Bus.RetryDelay,
		DeadLetter:  true,
	}, logger)
	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start raw point consumer: %v", err)
	}

	// Quota monitor
	monitor := quota.NewMonitor(
		cachedDir,
		quota.CombinedUsage{Counters: counters, Keys: cachedDir},
		quota.BusSink{Publisher: decoupler},
		logger,
		quota.Config{
			Thresholds: quota.Thresholds{
				Warning:  cfg.Quota.WarningThreshold,
				Critical: cfg.Quota.CriticalThreshold,
			},
			LookupTimeout: cfg.Quota.LookupTimeout,
			AlertTimeout:  cfg.Bus.PublishTimeout,
			Concurrency:   cfg.Quota.Concurrency,
		},
	)
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(monitorCtx, cfg.Quota.Interval)
	}()

	// Initialize ingestion service
	ingestService := service.NewIngestService(
		cachedDir,
		monitor,
		processor.Tiered{Inline: inline, Queued: queued},
		store,
		logger,
		service.Config{
			SupportedFormats:    formats,
			MaxPointsPerRequest: cfg.Ingestion.MaxPointsPerRequest,
		},
	)

	// Initialize HTTP handlers
	handler := handlers.NewIngestHandler(ingestService, handlers.Options{
		RateLimiter:  rateLimiter,
		MaxBodyBytes: cfg.Ingestion.MaxBodyBytes,
		DeadLetters:  stats,
		Batches:      acc,
		Logger:       logger,
		Checks: []handlers.ReadinessCheck{
			{Name: "database", Check: dir.Ping},
			{Name: "redis", Check: counters.Ping},
			{Name: "opensearch", Check: store.Ping},
			{Name: "bus", Check: func(ctx context.Context) error {
				if h := messaging.CheckClientHealth(ctx, client); !h.Connected {
					return errors.New(h.Error)
				}
				return nil
			}},
		},
	})
	router := server.NewRouter(handler)

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting, stop consumers, drain, then close clients.
	var shutdownErr error
	shutdownErr = multierr.Append(shutdownErr, srv.Shutdown(shutdownCtx))
	shutdownErr = multierr.Append(shutdownErr, consumer.Stop(shutdownCtx))
	stopMonitor()
	<-monitorDone

	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, cfg.Batch.DrainTimeout)
	shutdownErr = multierr.Append(shutdownErr, flusher.Stop(drainCtx))
	drainCancel()

	shutdownErr = multierr.Append(shutdownErr, client.Drain())
	shutdownErr = multierr.Append(shutdownErr, rateLimiter.Close())
	shutdownErr = multierr.Append(shutdownErr, counters.Close())
	closeDir()

	if shutdownErr != nil {
		for _, err := range multierr.Errors(shutdownErr) {
			slog.Error("Shutdown step failed", logging.Error(err))
		}
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

// openDirectory connects the PostgreSQL tenant directory, applying
// migrations first when enabled. Without a database URL an empty in-memory
// directory is used.
func openDirectory(cfg *config.Config) (directory, func()) {
	if cfg.Database.URL == "" {
		slog.Warn("Using in-memory tenant directory (development only)")
		return tenants.NewMemoryDirectory(), func() {}
	}

	ctx, cancel := database.BulkContext(context.Background())
	defer cancel()

	if cfg.Database.AutoMigrate {
		slog.Info("Running database migrations", slog.String("path", cfg.Database.MigrationsPath))
		status, err := database.MigrateUp(ctx, cfg.Database.MigrationsPath, cfg.Database.URL)
		if err != nil {
			slog.Error("Failed to run migrations", logging.Error(err))
			os.Exit(1)
		}
		slog.Info("Database migration complete",
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("dirty", status.Dirty),
			slog.Bool("changed", status.Changed),
		)
	}

	dir, err := tenants.NewPostgresDirectory(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to tenant database: %v", err)
	}
	return dir, dir.Close
}

// openBus connects NATS with a JetStream dead-letter stream. When NATS is
// disabled or unreachable, an in-process bus and bounded dead-letter buffer
// are used, so a single instance keeps working.
func openBus(cfg *config.Config, logger *logging.Logger) (messaging.Client, dlq.Writer, handlers.DeadLetterStats) {
	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = cfg.NATS.Name

		js, err := natsclient.NewJetStreamClient(natsCfg, logger)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			queue, err := dlq.NewJetStreamQueue(ctx, js, logger)
			if err == nil {
				slog.Info("Message bus connected", slog.String("nats_url", cfg.NATS.URL))
				return js, queue, queue
			}
			slog.Warn("Failed to initialize JetStream DLQ; using local buffer", logging.Error(err))
			local := dlq.NewMemoryQueue(localDLQSize)
			return js, local, local
		}
		slog.Warn("Failed to connect to NATS; using in-process bus", logging.Error(err))
	} else {
		slog.Info("NATS disabled; using in-process bus")
	}

	local := dlq.NewMemoryQueue(localDLQSize)
	return memory.NewBus(), local, local
}
