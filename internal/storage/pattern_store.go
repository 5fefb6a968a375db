package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/qawatch-io/qawatch/internal/detector"
)

// Sentinel errors for pattern and snapshot storage operations.
var (
	// ErrPatternStoreFailed is returned when a pattern storage operation fails.
	ErrPatternStoreFailed = errors.New("pattern storage failed")

	// ErrSnapshotStoreFailed is returned when a snapshot storage operation fails.
	ErrSnapshotStoreFailed = errors.New("health snapshot storage failed")

	_ detector.PatternStore  = (*PatternStore)(nil)
	_ detector.SnapshotStore = (*PatternStore)(nil)
)

// PatternStore implements detector.PatternStore and detector.SnapshotStore
// with a PostgreSQL backend. Pattern rows are append-only; snapshots are a
// one-row-per-integration upsert surface.
type PatternStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPatternStore creates a PostgreSQL-backed pattern and snapshot store.
func NewPatternStore(conn *Connection, logger *slog.Logger) (*PatternStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PatternStore{conn: conn, logger: logger}, nil
}

// CreatePattern appends a new pattern row. A missing ID is assigned.
func (s *PatternStore) CreatePattern(ctx context.Context, p *detector.Pattern) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	query := `
		INSERT INTO patterns (
			id, pattern_type, severity, confidence_score, affected_entities,
			common_factor, description, avg_excess_percent, entity_key, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.conn.ExecContext(ctx, query,
		p.ID, string(p.Type), string(p.Severity), p.ConfidenceScore,
		pq.Array(p.AffectedEntities), p.CommonFactor, p.Description,
		p.AvgExcessPercent, p.EntityKey, p.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: insert pattern: %w", ErrPatternStoreFailed, err)
	}

	return nil
}

// LatestPattern returns the most recent pattern with the given type and entity
// key, or nil if none exists.
func (s *PatternStore) LatestPattern(
	ctx context.Context,
	patternType detector.PatternType,
	entityKey string,
) (*detector.Pattern, error) {
	query := `
		SELECT id, pattern_type, severity, confidence_score, affected_entities,
		       common_factor, description, avg_excess_percent, entity_key, detected_at
		FROM patterns
		WHERE pattern_type = $1 AND entity_key = $2
		ORDER BY detected_at DESC
		LIMIT 1
	`

	row := s.conn.QueryRowContext(ctx, query, string(patternType), entityKey)

	p, err := scanPattern(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: latest pattern: %w", ErrPatternStoreFailed, err)
	}

	return p, nil
}

// QueryPatterns returns matching patterns ordered by detected_at descending.
// A limit of 0 disables pagination (used internally by the health refresher).
// The second return value is the total match count before pagination.
func (s *PatternStore) QueryPatterns(
	ctx context.Context,
	filter *detector.PatternFilter,
	limit, offset int,
) ([]detector.Pattern, int, error) {
	if filter == nil {
		filter = &detector.PatternFilter{}
	}

	where := ` WHERE ($1 = '' OR pattern_type = $1)
		  AND ($2 = '' OR severity = $2)
		  AND ($3::timestamptz IS NULL OR detected_at >= $3)
		  AND ($4::timestamptz IS NULL OR detected_at < $4)`

	var patternType, severity string

	if filter.Type != nil {
		patternType = string(*filter.Type)
	}

	if filter.Severity != nil {
		severity = string(*filter.Severity)
	}

	args := []any{patternType, severity, filter.DetectedAfter, filter.DetectedBefore}

	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count patterns: %w", ErrPatternStoreFailed, err)
	}

	query := `
		SELECT id, pattern_type, severity, confidence_score, affected_entities,
		       common_factor, description, avg_excess_percent, entity_key, detected_at
		FROM patterns` + where + `
		ORDER BY detected_at DESC, id ASC`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query patterns: %w", ErrPatternStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var patterns []detector.Pattern

	for rows.Next() {
		p, err := scanPattern(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scan pattern: %w", ErrPatternStoreFailed, err)
		}

		patterns = append(patterns, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterate patterns: %w", ErrPatternStoreFailed, err)
	}

	return patterns, total, nil
}

// scanPattern reads one pattern row via the given scan function, shared by the
// single-row and multi-row paths.
func scanPattern(scan func(dest ...any) error) (*detector.Pattern, error) {
	var (
		p        detector.Pattern
		entities pq.StringArray
	)

	err := scan(&p.ID, &p.Type, &p.Severity, &p.ConfidenceScore, &entities,
		&p.CommonFactor, &p.Description, &p.AvgExcessPercent, &p.EntityKey, &p.DetectedAt)
	if err != nil {
		return nil, err
	}

	p.AffectedEntities = []string(entities)

	return &p, nil
}

// UpsertSnapshot atomically replaces the current snapshot for the integration.
func (s *PatternStore) UpsertSnapshot(ctx context.Context, snapshot *detector.HealthSnapshot) error {
	query := `
		INSERT INTO integration_health_snapshots (
			integration_id, status, pricing_sync_status, fees_sync_status,
			booking_loss_status, error_rate, last_updated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (integration_id) DO UPDATE SET
			status = EXCLUDED.status,
			pricing_sync_status = EXCLUDED.pricing_sync_status,
			fees_sync_status = EXCLUDED.fees_sync_status,
			booking_loss_status = EXCLUDED.booking_loss_status,
			error_rate = EXCLUDED.error_rate,
			last_updated = EXCLUDED.last_updated
	`

	_, err := s.conn.ExecContext(ctx, query,
		snapshot.IntegrationID, string(snapshot.Status), string(snapshot.PricingSyncStatus),
		string(snapshot.FeesSyncStatus), string(snapshot.BookingLossStatus),
		snapshot.ErrorRate, snapshot.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("%w: upsert snapshot for %q: %w", ErrSnapshotStoreFailed, snapshot.IntegrationID, err)
	}

	return nil
}

// GetSnapshot returns the current snapshot, or nil if the integration has
// never been scored.
func (s *PatternStore) GetSnapshot(ctx context.Context, integrationID string) (*detector.HealthSnapshot, error) {
	query := `
		SELECT integration_id, status, pricing_sync_status, fees_sync_status,
		       booking_loss_status, error_rate, last_updated
		FROM integration_health_snapshots
		WHERE integration_id = $1
	`

	var snapshot detector.HealthSnapshot

	err := s.conn.QueryRowContext(ctx, query, integrationID).Scan(
		&snapshot.IntegrationID, &snapshot.Status, &snapshot.PricingSyncStatus,
		&snapshot.FeesSyncStatus, &snapshot.BookingLossStatus,
		&snapshot.ErrorRate, &snapshot.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("%w: get snapshot for %q: %w", ErrSnapshotStoreFailed, integrationID, err)
	}

	return &snapshot, nil
}

// ListSnapshots returns all current snapshots ordered by integration_id.
func (s *PatternStore) ListSnapshots(ctx context.Context) ([]detector.HealthSnapshot, error) {
	query := `
		SELECT integration_id, status, pricing_sync_status, fees_sync_status,
		       booking_loss_status, error_rate, last_updated
		FROM integration_health_snapshots
		ORDER BY integration_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %w", ErrSnapshotStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var snapshots []detector.HealthSnapshot

	for rows.Next() {
		var snapshot detector.HealthSnapshot

		if err := rows.Scan(&snapshot.IntegrationID, &snapshot.Status, &snapshot.PricingSyncStatus,
			&snapshot.FeesSyncStatus, &snapshot.BookingLossStatus,
			&snapshot.ErrorRate, &snapshot.LastUpdated); err != nil {
			return nil, fmt.Errorf("%w: scan snapshot: %w", ErrSnapshotStoreFailed, err)
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate snapshots: %w", ErrSnapshotStoreFailed, err)
	}

	return snapshots, nil
}
