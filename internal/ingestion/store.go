// Package ingestion provides the event domain models and persistence interfaces.
//
// This package defines the Store interface which represents what the domain
// needs for event persistence. Concrete implementations (PostgreSQL,
// in-memory) live in the internal/storage package.
package ingestion

import (
	"context"
	"time"
)

// Store defines the interface for event persistence.
//
// Implementations must support:
//   - Idempotency: duplicate appends return success, not error. A duplicate is
//     detected by natural key, so a crashed-and-restarted producer converges to
//     the same stored state.
//   - Ordered queries: time-range queries return time-ascending slices.
//   - Partial success: per-event transactions for batch operations so one bad
//     event doesn't prevent others from being stored.
type Store interface {
	// AppendTimeLog stores a single workflow time log with idempotency checking.
	//
	// Returns (stored, duplicate, error) where:
	//   - stored=true: the row was written
	//   - duplicate=true: a row with the same natural key already existed
	//   - error: validation or storage failure; nothing was written
	AppendTimeLog(ctx context.Context, log *WorkflowTimeLog) (stored bool, duplicate bool, err error)

	// AppendTestResult stores a single test result with idempotency checking.
	AppendTestResult(ctx context.Context, result *TestResult) (stored bool, duplicate bool, err error)

	// AppendIntegrationEvent stores a single integration event with idempotency checking.
	AppendIntegrationEvent(ctx context.Context, event *IntegrationEvent) (stored bool, duplicate bool, err error)

	// QueryTimeLogs returns time logs with completed_at in [from, to), ascending.
	QueryTimeLogs(ctx context.Context, from, to time.Time) ([]WorkflowTimeLog, error)

	// QueryTestResults returns test results with executed_at in [from, to), ascending.
	QueryTestResults(ctx context.Context, from, to time.Time) ([]TestResult, error)

	// QueryIntegrationEvents returns integration events with occurred_at in
	// [from, to), ascending. integrationID narrows the result when non-empty.
	QueryIntegrationEvents(ctx context.Context, integrationID string, from, to time.Time) ([]IntegrationEvent, error)

	// HealthCheck verifies the storage backend is ready to serve requests.
	HealthCheck(ctx context.Context) error
}

type (
	// AppendResult represents the storage result for a single event in a batch.
	//
	// Each event in a batch gets its own result, allowing HTTP handlers to
	// report which events succeeded and which failed (207 Multi-Status).
	AppendResult struct {
		// Index is the event's position in the original batch (0-based).
		Index int

		// Stored indicates the row was written (new data).
		Stored bool

		// Duplicate indicates the event was already present (idempotency hit).
		// Not an error condition.
		Duplicate bool

		// Error contains the validation or storage error, nil on success.
		Error error
	}
)

// BatchAppender stores event batches with per-event transactions.
// Implemented by the same stores that implement Store; split out so transport
// code (HTTP handlers, Kafka consumers) can depend on the narrow surface.
type BatchAppender interface {
	AppendTimeLogs(ctx context.Context, logs []*WorkflowTimeLog) []AppendResult
	AppendTestResults(ctx context.Context, results []*TestResult) []AppendResult
	AppendIntegrationEvents(ctx context.Context, events []*IntegrationEvent) []AppendResult
}
