// Package main provides the Kafka ingestion service for QAWatch.
//
// The ingester drains the event topics into the same PostgreSQL event store
// the HTTP API writes to, so producers can choose whichever transport fits.
// It runs as a separate process to keep broker outages away from the API.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/qawatch-io/qawatch/internal/config"
	"github.com/qawatch-io/qawatch/internal/consumer"
	"github.com/qawatch-io/qawatch/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logLevel := config.GetEnvLogLevel("QAWATCH_INGESTER_LOG_LEVEL", slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("Starting QAWatch ingester",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	eventStore, err := storage.NewEventStore(dbConn, logger)
	if err != nil {
		logger.Error("Failed to initialize event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	consumerConfig := consumer.LoadConfig()

	kafkaConsumer, err := consumer.New(consumerConfig, eventStore, logger)
	if err != nil {
		logger.Error("Failed to initialize consumer", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Consumer configured",
		slog.Any("brokers", consumerConfig.Brokers),
		slog.String("group_id", consumerConfig.GroupID),
		slog.String("time_logs_topic", consumerConfig.TimeLogsTopic),
		slog.String("test_results_topic", consumerConfig.TestResultsTopic),
		slog.String("integration_events_topic", consumerConfig.IntegrationEventsTopic),
	)

	kafkaConsumer.Start(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	sig := <-stop
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	kafkaConsumer.Stop()
	logger.Info("QAWatch ingester stopped")
}
