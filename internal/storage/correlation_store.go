package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qawatch-io/qawatch/internal/correlation"
)

// ErrCorrelationStoreFailed is returned when a correlation storage operation fails.
var ErrCorrelationStoreFailed = errors.New("correlation storage failed")

var _ correlation.Store = (*CorrelationStore)(nil)

// CorrelationStore implements correlation.Store with a PostgreSQL backend.
// One row per (test_case_id, integration_id); recomputation upserts in place.
type CorrelationStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewCorrelationStore creates a PostgreSQL-backed correlation store.
func NewCorrelationStore(conn *Connection, logger *slog.Logger) (*CorrelationStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &CorrelationStore{conn: conn, logger: logger}, nil
}

// UpsertCorrelation replaces the row for (test_case_id, integration_id).
func (s *CorrelationStore) UpsertCorrelation(ctx context.Context, c *correlation.Correlation) error {
	query := `
		INSERT INTO correlations (
			test_case_id, integration_id, score, confidence, pattern,
			time_window_seconds, total_occurrences, failure_first_count,
			last_observed_at, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (test_case_id, integration_id) DO UPDATE SET
			score = EXCLUDED.score,
			confidence = EXCLUDED.confidence,
			pattern = EXCLUDED.pattern,
			time_window_seconds = EXCLUDED.time_window_seconds,
			total_occurrences = EXCLUDED.total_occurrences,
			failure_first_count = EXCLUDED.failure_first_count,
			last_observed_at = EXCLUDED.last_observed_at,
			computed_at = EXCLUDED.computed_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		c.TestCaseID, c.IntegrationID, c.Score, c.Confidence, c.Pattern,
		c.TimeWindowSeconds, c.TotalOccurrences, c.FailureFirstCount,
		c.LastObservedAt.UTC(), c.ComputedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: upsert pair (%s, %s): %w",
			ErrCorrelationStoreFailed, c.TestCaseID, c.IntegrationID, err)
	}

	return nil
}

// QueryCorrelations returns matching rows ordered by score descending.
func (s *CorrelationStore) QueryCorrelations(
	ctx context.Context,
	filter *correlation.Filter,
) ([]correlation.Correlation, error) {
	if filter == nil {
		filter = &correlation.Filter{}
	}

	query := `
		SELECT test_case_id, integration_id, score, confidence, pattern,
		       time_window_seconds, total_occurrences, failure_first_count,
		       last_observed_at, computed_at
		FROM correlations
		WHERE ($1 = '' OR test_case_id = $1)
		  AND ($2 = '' OR integration_id = $2)
		  AND ($3::double precision IS NULL OR score >= $3)
		ORDER BY score DESC, test_case_id ASC, integration_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, filter.TestCaseID, filter.IntegrationID, filter.MinScore)
	if err != nil {
		return nil, fmt.Errorf("%w: query correlations: %w", ErrCorrelationStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var correlations []correlation.Correlation

	for rows.Next() {
		var c correlation.Correlation

		if err := rows.Scan(&c.TestCaseID, &c.IntegrationID, &c.Score, &c.Confidence, &c.Pattern,
			&c.TimeWindowSeconds, &c.TotalOccurrences, &c.FailureFirstCount,
			&c.LastObservedAt, &c.ComputedAt); err != nil {
			return nil, fmt.Errorf("%w: scan correlation: %w", ErrCorrelationStoreFailed, err)
		}

		correlations = append(correlations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate correlations: %w", ErrCorrelationStoreFailed, err)
	}

	return correlations, nil
}

// PruneStale deletes rows whose last observed co-occurrence is older than cutoff.
func (s *CorrelationStore) PruneStale(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM correlations WHERE last_observed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: prune stale: %w", ErrCorrelationStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", ErrCorrelationStoreFailed, err)
	}

	return int(affected), nil
}
