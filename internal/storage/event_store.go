package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// Sentinel errors for event storage operations.
var (
	// ErrEventStoreFailed is returned when an event storage operation fails.
	ErrEventStoreFailed = errors.New("event storage failed")

	// Compile-time interface assertions so contract drift fails the build.
	_ ingestion.Store         = (*EventStore)(nil)
	_ ingestion.BatchAppender = (*EventStore)(nil)
)

// EventStore implements ingestion.Store and ingestion.BatchAppender with a
// PostgreSQL backend.
//
// Idempotency is enforced by natural-key unique constraints: a conflicting
// insert is detected with ON CONFLICT DO NOTHING and reported as a duplicate,
// never an error. Batch appends run one transaction per event so a single bad
// event cannot take down the rest of the batch.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventStore creates a PostgreSQL-backed event store.
func NewEventStore(conn *Connection, logger *slog.Logger) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{conn: conn, logger: logger}, nil
}

// HealthCheck verifies the database connection is ready to serve requests.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

// AppendTimeLog stores a single workflow time log.
//
// Returns (stored, duplicate, error):
//   - (true, false, nil)  → new row written
//   - (false, true, nil)  → natural key already present, nothing written
//   - (false, false, err) → validation or storage failure
func (s *EventStore) AppendTimeLog(ctx context.Context, log *ingestion.WorkflowTimeLog) (bool, bool, error) {
	startTime := time.Now()

	if err := log.Validate(); err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
	}

	query := `
		INSERT INTO workflow_time_logs (ticket_id, component, estimated_seconds, actual_seconds, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticket_id, completed_at) DO NOTHING
	`

	result, err := s.conn.ExecContext(ctx, query,
		log.TicketID, log.Component, log.EstimatedSeconds, log.ActualSeconds, log.CompletedAt.UTC())
	if err != nil {
		return false, false, fmt.Errorf("%w: insert time log: %w", ErrEventStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("%w: rows affected: %w", ErrEventStoreFailed, err)
	}

	if affected == 0 {
		s.logger.Debug("Duplicate time log",
			slog.String("ticket_id", log.TicketID),
			slog.Time("completed_at", log.CompletedAt),
		)

		return false, true, nil
	}

	s.logger.Debug("Time log stored",
		slog.String("ticket_id", log.TicketID),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return true, false, nil
}

// AppendTestResult stores a single test result.
func (s *EventStore) AppendTestResult(ctx context.Context, result *ingestion.TestResult) (bool, bool, error) {
	if err := result.Validate(); err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
	}

	query := `
		INSERT INTO test_results (test_case_id, integration_tag, outcome, executed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (test_case_id, executed_at) DO NOTHING
	`

	res, err := s.conn.ExecContext(ctx, query,
		result.TestCaseID, result.IntegrationTag, string(result.Outcome), result.ExecutedAt.UTC())
	if err != nil {
		return false, false, fmt.Errorf("%w: insert test result: %w", ErrEventStoreFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("%w: rows affected: %w", ErrEventStoreFailed, err)
	}

	if affected == 0 {
		return false, true, nil
	}

	return true, false, nil
}

// AppendIntegrationEvent stores a single integration event.
func (s *EventStore) AppendIntegrationEvent(ctx context.Context, event *ingestion.IntegrationEvent) (bool, bool, error) {
	if err := event.Validate(); err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
	}

	query := `
		INSERT INTO integration_events (integration_id, event_type, magnitude, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (integration_id, event_type, occurred_at) DO NOTHING
	`

	res, err := s.conn.ExecContext(ctx, query,
		event.IntegrationID, string(event.EventType), event.Magnitude, string(event.Source), event.OccurredAt.UTC())
	if err != nil {
		return false, false, fmt.Errorf("%w: insert integration event: %w", ErrEventStoreFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("%w: rows affected: %w", ErrEventStoreFailed, err)
	}

	if affected == 0 {
		return false, true, nil
	}

	return true, false, nil
}

// AppendTimeLogs stores a batch with per-event isolation. One result per
// input, index-aligned, so the handler can build a 207 Multi-Status response.
func (s *EventStore) AppendTimeLogs(ctx context.Context, logs []*ingestion.WorkflowTimeLog) []ingestion.AppendResult {
	results := make([]ingestion.AppendResult, len(logs))

	for i, log := range logs {
		stored, duplicate, err := s.AppendTimeLog(ctx, log)
		results[i] = ingestion.AppendResult{Index: i, Stored: stored, Duplicate: duplicate, Error: err}
	}

	return results
}

// AppendTestResults stores a batch with per-event isolation.
func (s *EventStore) AppendTestResults(ctx context.Context, testResults []*ingestion.TestResult) []ingestion.AppendResult {
	results := make([]ingestion.AppendResult, len(testResults))

	for i, r := range testResults {
		stored, duplicate, err := s.AppendTestResult(ctx, r)
		results[i] = ingestion.AppendResult{Index: i, Stored: stored, Duplicate: duplicate, Error: err}
	}

	return results
}

// AppendIntegrationEvents stores a batch with per-event isolation.
func (s *EventStore) AppendIntegrationEvents(ctx context.Context, events []*ingestion.IntegrationEvent) []ingestion.AppendResult {
	results := make([]ingestion.AppendResult, len(events))

	for i, e := range events {
		stored, duplicate, err := s.AppendIntegrationEvent(ctx, e)
		results[i] = ingestion.AppendResult{Index: i, Stored: stored, Duplicate: duplicate, Error: err}
	}

	return results
}

// QueryTimeLogs returns time logs with completed_at in [from, to), ascending.
func (s *EventStore) QueryTimeLogs(ctx context.Context, from, to time.Time) ([]ingestion.WorkflowTimeLog, error) {
	query := `
		SELECT ticket_id, component, estimated_seconds, actual_seconds, completed_at
		FROM workflow_time_logs
		WHERE completed_at >= $1 AND completed_at < $2
		ORDER BY completed_at ASC, ticket_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: query time logs: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var logs []ingestion.WorkflowTimeLog

	for rows.Next() {
		var log ingestion.WorkflowTimeLog

		if err := rows.Scan(&log.TicketID, &log.Component, &log.EstimatedSeconds,
			&log.ActualSeconds, &log.CompletedAt); err != nil {
			return nil, fmt.Errorf("%w: scan time log: %w", ErrEventStoreFailed, err)
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate time logs: %w", ErrEventStoreFailed, err)
	}

	return logs, nil
}

// QueryTestResults returns test results with executed_at in [from, to), ascending.
func (s *EventStore) QueryTestResults(ctx context.Context, from, to time.Time) ([]ingestion.TestResult, error) {
	query := `
		SELECT test_case_id, integration_tag, outcome, executed_at
		FROM test_results
		WHERE executed_at >= $1 AND executed_at < $2
		ORDER BY executed_at ASC, test_case_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: query test results: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var results []ingestion.TestResult

	for rows.Next() {
		var r ingestion.TestResult

		if err := rows.Scan(&r.TestCaseID, &r.IntegrationTag, &r.Outcome, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("%w: scan test result: %w", ErrEventStoreFailed, err)
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate test results: %w", ErrEventStoreFailed, err)
	}

	return results, nil
}

// QueryIntegrationEvents returns integration events with occurred_at in
// [from, to), ascending. An empty integrationID returns events for all
// integrations.
func (s *EventStore) QueryIntegrationEvents(
	ctx context.Context,
	integrationID string,
	from, to time.Time,
) ([]ingestion.IntegrationEvent, error) {
	query := `
		SELECT integration_id, event_type, magnitude, source, occurred_at
		FROM integration_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3 = '' OR integration_id = $3)
		ORDER BY occurred_at ASC, integration_id ASC, event_type ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, from.UTC(), to.UTC(), integrationID)
	if err != nil {
		return nil, fmt.Errorf("%w: query integration events: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var events []ingestion.IntegrationEvent

	for rows.Next() {
		var e ingestion.IntegrationEvent

		if err := rows.Scan(&e.IntegrationID, &e.EventType, &e.Magnitude, &e.Source, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("%w: scan integration event: %w", ErrEventStoreFailed, err)
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate integration events: %w", ErrEventStoreFailed, err)
	}

	return events, nil
}
