// Package consumer provides the Kafka event consumer for QAWatch.
//
// Producers that cannot speak HTTP (batch exporters, workflow trackers behind
// a firewall) publish events to Kafka instead; the consumer drains the topics
// into the same event store the HTTP ingestion endpoints write to. Delivery is
// at-least-once: offsets are committed only after the store append, and the
// store's natural-key idempotency absorbs redelivery.
package consumer

import (
	"errors"
	"time"

	"github.com/qawatch-io/qawatch/internal/config"
)

// Topic and consumer defaults.
const (
	defaultGroupID                = "qawatch-ingester"
	defaultTimeLogsTopic          = "qawatch.time-logs"
	defaultTestResultsTopic       = "qawatch.test-results"
	defaultIntegrationEventsTopic = "qawatch.integration-events"
	defaultMinBytes               = 1
	defaultMaxBytes               = 10 << 20 // 10 MB, matches broker default
	defaultMaxWait                = 1 * time.Second
)

// Configuration validation errors.
var (
	ErrNoBrokers = errors.New("at least one kafka broker is required")
	ErrNoGroupID = errors.New("consumer group id cannot be empty")
)

// Config holds Kafka consumer configuration.
type Config struct {
	Brokers                []string
	GroupID                string
	TimeLogsTopic          string
	TestResultsTopic       string
	IntegrationEventsTopic string
	MinBytes               int
	MaxBytes               int
	MaxWait                time.Duration
}

// LoadConfig loads consumer configuration from environment variables with
// sensible defaults.
func LoadConfig() *Config {
	return &Config{
		Brokers: config.ParseCommaSeparatedList(
			config.GetEnvStr("QAWATCH_KAFKA_BROKERS", "localhost:9092"),
		),
		GroupID:                config.GetEnvStr("QAWATCH_KAFKA_GROUP_ID", defaultGroupID),
		TimeLogsTopic:          config.GetEnvStr("QAWATCH_KAFKA_TIME_LOGS_TOPIC", defaultTimeLogsTopic),
		TestResultsTopic:       config.GetEnvStr("QAWATCH_KAFKA_TEST_RESULTS_TOPIC", defaultTestResultsTopic),
		IntegrationEventsTopic: config.GetEnvStr("QAWATCH_KAFKA_INTEGRATION_EVENTS_TOPIC", defaultIntegrationEventsTopic),
		MinBytes:               config.GetEnvInt("QAWATCH_KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes:               config.GetEnvInt("QAWATCH_KAFKA_MAX_BYTES", defaultMaxBytes),
		MaxWait:                config.GetEnvDuration("QAWATCH_KAFKA_MAX_WAIT", defaultMaxWait),
	}
}

// Validate checks the consumer configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if c.GroupID == "" {
		return ErrNoGroupID
	}

	return nil
}
