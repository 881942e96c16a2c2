package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/propstream/internal/config"
	apperrors "github.com/devrev/propstream/internal/errors"
	"github.com/devrev/propstream/internal/handler"
	"github.com/devrev/propstream/internal/health"
	"github.com/devrev/propstream/internal/metrics"
	"github.com/devrev/propstream/internal/relay"
	"github.com/devrev/propstream/internal/replog"
	"github.com/devrev/propstream/internal/server"
	"github.com/devrev/propstream/internal/service"
	"github.com/devrev/propstream/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	// Initialize logger
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting propstream service",
		zap.String("region", cfg.Server.Region),
		zap.Int("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("nats_url", cfg.Nats.URL))

	// Initialize metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Metrics initialized")

	// Initialize property store (PostgreSQL)
	propertyStore, err := store.NewPostgresPropertyStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize property store", zap.Error(err))
	}
	logger.Info("Property store initialized")

	// Connect to the replication log
	replicationLog, err := replog.Connect(cfg.Nats, cfg.Server.Region, logger)
	if err != nil {
		logger.Fatal("Failed to connect to replication log", zap.Error(err))
	}
	logger.Info("Replication log connected", zap.String("stream", cfg.Nats.Stream))

	// Initialize services
	lagTracker := service.NewLagTracker()
	writeService := service.NewWriteService(propertyStore, cfg.Server.Region, m, logger)

	applier := service.NewApplier(propertyStore, replicationLog, lagTracker, cfg.Server.Region, m, logger)
	if err := applier.Start(); err != nil {
		logger.Fatal("Failed to start replication applier", zap.Error(err))
	}
	logger.Info("Replication applier started")

	outboxRelay := relay.NewRelay(relay.Config{
		ChannelSize:   cfg.Outbox.ChannelSize,
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		ProducerCount: cfg.Outbox.ProducerCount,
		WorkerCount:   cfg.Outbox.WorkerCount,
		Repo:          propertyStore,
		Publisher:     replicationLog,
		Metrics:       m,
		Logger:        logger,
	})
	outboxRelay.Start()
	logger.Info("Outbox relay started")

	reaper := service.NewReaper(propertyStore, cfg.Idempotency.Retention, cfg.Idempotency.CleanupInterval, m, logger)
	reaper.Start()
	logger.Info("Idempotency key reaper started",
		zap.Duration("retention", cfg.Idempotency.Retention))

	// Initialize HTTP server
	errorHandler := apperrors.NewHandler(logger)
	handlers := handler.NewPropertyHandler(writeService, lagTracker, errorHandler, logger)
	healthChecker := health.NewHealthChecker(propertyStore, replicationLog, logger)

	srv := server.NewServer(cfg, handlers, healthChecker, errorHandler, logger)
	srv.SetupRoutes()

	// Start metrics server
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop background workers
	outboxRelay.Close()
	reaper.Stop()

	// Close external connections
	replicationLog.Close()
	propertyStore.Close()

	logger.Info("propstream service stopped")
}

// buildLogger builds a zap logger from the logging configuration
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
