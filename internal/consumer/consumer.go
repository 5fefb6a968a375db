package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// messageReader abstracts *kafka.Reader so tests can feed messages without a
// broker.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// appendFunc stores one decoded message payload. Returning an error marks the
// message as poisoned; it is logged and committed anyway so the partition does
// not stall.
type appendFunc func(ctx context.Context, payload []byte) error

// Consumer drains the QAWatch event topics into the event store. One reader
// per topic, each with its own goroutine, all sharing the consumer group.
type Consumer struct {
	store   ingestion.Store
	logger  *slog.Logger
	readers []topicReader

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     sync.WaitGroup
}

type topicReader struct {
	topic  string
	reader messageReader
	append appendFunc
}

// New creates a consumer wired to the three event topics.
func New(cfg *Config, store ingestion.Store, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer configuration: %w", err)
	}

	consumer := &Consumer{
		store:  store,
		logger: logger,
	}

	consumer.readers = []topicReader{
		{
			topic:  cfg.TimeLogsTopic,
			reader: newReader(cfg, cfg.TimeLogsTopic),
			append: consumer.appendTimeLog,
		},
		{
			topic:  cfg.TestResultsTopic,
			reader: newReader(cfg, cfg.TestResultsTopic),
			append: consumer.appendTestResult,
		},
		{
			topic:  cfg.IntegrationEventsTopic,
			reader: newReader(cfg, cfg.IntegrationEventsTopic),
			append: consumer.appendIntegrationEvent,
		},
	}

	return consumer, nil
}

func newReader(cfg *Config, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	})
}

// Start launches the per-topic consume loops. It returns immediately; call
// Stop to drain and close the readers.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for i := range c.readers {
		c.done.Add(1)

		go func(tr topicReader) {
			defer c.done.Done()
			c.consumeLoop(ctx, tr)
		}(c.readers[i])
	}

	c.logger.Info("Kafka consumer started", slog.Int("topics", len(c.readers)))
}

// Stop cancels the consume loops and closes the readers. Safe to call more
// than once.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}

		c.done.Wait()

		for i := range c.readers {
			if err := c.readers[i].reader.Close(); err != nil {
				c.logger.Error("Failed to close reader",
					slog.String("topic", c.readers[i].topic),
					slog.String("error", err.Error()),
				)
			}
		}

		c.logger.Info("Kafka consumer stopped")
	})
}

// consumeLoop is the fetch/append/commit cycle for one topic. The commit
// happens after the append succeeds or the message is classified as poisoned,
// giving at-least-once delivery with idempotent absorption of redelivery.
func (c *Consumer) consumeLoop(ctx context.Context, tr topicReader) {
	for {
		msg, err := tr.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}

			c.logger.Error("Failed to fetch message",
				slog.String("topic", tr.topic),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := tr.append(ctx, msg.Value); err != nil {
			if ctx.Err() != nil {
				// Shutdown race: leave the message uncommitted for redelivery.
				return
			}

			// Malformed or invalid payloads are dropped, not retried: the
			// producer bug will not heal by redelivering the same bytes.
			c.logger.Warn("Dropping unprocessable message",
				slog.String("topic", tr.topic),
				slog.Int64("offset", msg.Offset),
				slog.Int("partition", msg.Partition),
				slog.String("error", err.Error()),
			)
		}

		if err := tr.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			c.logger.Error("Failed to commit offset",
				slog.String("topic", tr.topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Consumer) appendTimeLog(ctx context.Context, payload []byte) error {
	var log ingestion.WorkflowTimeLog
	if err := json.Unmarshal(payload, &log); err != nil {
		return fmt.Errorf("decode time log: %w", err)
	}

	stored, duplicate, err := c.store.AppendTimeLog(ctx, &log)
	if err != nil {
		return fmt.Errorf("append time log: %w", err)
	}

	c.logAppend("time log", log.TicketID, stored, duplicate)

	return nil
}

func (c *Consumer) appendTestResult(ctx context.Context, payload []byte) error {
	var result ingestion.TestResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("decode test result: %w", err)
	}

	stored, duplicate, err := c.store.AppendTestResult(ctx, &result)
	if err != nil {
		return fmt.Errorf("append test result: %w", err)
	}

	c.logAppend("test result", result.TestCaseID, stored, duplicate)

	return nil
}

func (c *Consumer) appendIntegrationEvent(ctx context.Context, payload []byte) error {
	var event ingestion.IntegrationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode integration event: %w", err)
	}

	stored, duplicate, err := c.store.AppendIntegrationEvent(ctx, &event)
	if err != nil {
		return fmt.Errorf("append integration event: %w", err)
	}

	c.logAppend("integration event", event.IntegrationID, stored, duplicate)

	return nil
}

func (c *Consumer) logAppend(kind, id string, stored, duplicate bool) {
	c.logger.Debug("Event consumed",
		slog.String("kind", kind),
		slog.String("id", id),
		slog.Bool("stored", stored),
		slog.Bool("duplicate", duplicate),
	)
}
