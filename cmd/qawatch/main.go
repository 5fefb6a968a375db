// Package main provides the QAWatch quality-observability service.
//
// One process runs both halves of the system: the HTTP API (ingestion and
// query) and the background analysis scheduler (anomaly detection,
// test-integration correlation, revenue impact, alert dispatch).
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/api"
	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/config"
	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/detector"
	"github.com/qawatch-io/qawatch/internal/revenue"
	"github.com/qawatch-io/qawatch/internal/scheduler"
	"github.com/qawatch-io/qawatch/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "qawatch"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting QAWatch service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("consumer_rps", middlewareConfig.ConsumerRPS),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	var apiKeyStore storage.APIKeyStore

	authEnabled := config.GetEnvBool("QAWATCH_AUTH_ENABLED", false)
	if authEnabled {
		apiKeyStore, err = storage.NewPersistentKeyStore(dbConn, logger)
		if err != nil {
			logger.Error("Failed to connect to persistent key store", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		logger.Info("Consumer authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Consumer authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set QAWATCH_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	stores, err := buildStores(dbConn, logger)
	if err != nil {
		logger.Error("Failed to initialize stores", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Stores initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	sched := buildScheduler(stores, logger)
	sched.Start()

	defer sched.Stop()

	server := api.NewServer(serverConfig, stores.api, apiKeyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("QAWatch service stopped")
}

// serviceStores bundles the concrete stores for wiring; the API and the
// analysis tasks both consume them through domain interfaces.
type serviceStores struct {
	api      *api.Stores
	events   *storage.EventStore
	patterns *storage.PatternStore
	revenues *storage.RevenueStore
}

func buildStores(dbConn *storage.Connection, logger *slog.Logger) (*serviceStores, error) {
	eventStore, err := storage.NewEventStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	patternStore, err := storage.NewPatternStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	correlationStore, err := storage.NewCorrelationStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	revenueStore, err := storage.NewRevenueStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	alertStore, err := storage.NewAlertStore(dbConn, logger)
	if err != nil {
		return nil, err
	}

	return &serviceStores{
		api: &api.Stores{
			Events:       eventStore,
			Batch:        eventStore,
			Patterns:     patternStore,
			Snapshots:    patternStore,
			Correlations: correlationStore,
			Impacts:      revenueStore,
			Alerts:       alertStore,
		},
		events:   eventStore,
		patterns: patternStore,
		revenues: revenueStore,
	}, nil
}

// buildScheduler wires the four analysis tasks. Each task loads its own
// configuration from the environment.
func buildScheduler(stores *serviceStores, logger *slog.Logger) *scheduler.Scheduler {
	anomalyDetector := detector.New(
		stores.api.Events,
		stores.api.Patterns,
		stores.api.Snapshots,
		nil,
		logger,
	)

	engine := correlation.NewEngine(stores.api.Events, stores.api.Correlations, nil, logger)

	calculator := revenue.NewCalculator(
		stores.api.Events,
		stores.api.Correlations,
		stores.api.Impacts,
		stores.revenues,
		revenue.LoadFileConfigFromEnv(),
		nil,
		logger,
	)

	dispatcher := alerting.NewDispatcher(
		stores.api.Patterns,
		stores.api.Correlations,
		stores.api.Impacts,
		stores.api.Alerts,
		nil,
		logger,
	)

	sched := scheduler.New(scheduler.LoadConfig(), logger)
	sched.Register(anomalyDetector)
	sched.Register(engine)
	sched.Register(calculator)
	sched.Register(dispatcher)

	return sched
}
