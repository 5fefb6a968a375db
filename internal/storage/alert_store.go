package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qawatch-io/qawatch/internal/alerting"
)

// ErrAlertStoreFailed is returned when an alert storage operation fails.
var ErrAlertStoreFailed = errors.New("alert storage failed")

var _ alerting.Store = (*AlertStore)(nil)

// AlertStore implements alerting.Store with a PostgreSQL backend.
//
// The at-most-one-live-alert invariant is enforced by a partial unique index
// on (source_type, source_id) WHERE dismissed_at IS NULL, so concurrent
// dispatch passes cannot double-alert. ON CONFLICT against that index turns
// the race into a silent no-op.
type AlertStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewAlertStore creates a PostgreSQL-backed alert store.
func NewAlertStore(conn *Connection, logger *slog.Logger) (*AlertStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &AlertStore{conn: conn, logger: logger}, nil
}

// CreateAlert inserts a new alert unless a live alert already exists for the
// same (source_type, source_id).
func (s *AlertStore) CreateAlert(ctx context.Context, alert *alerting.Alert) (bool, error) {
	query := `
		INSERT INTO alerts (id, source_type, source_id, severity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_type, source_id) WHERE dismissed_at IS NULL DO NOTHING
	`

	result, err := s.conn.ExecContext(ctx, query,
		alert.ID, string(alert.SourceType), alert.SourceID,
		string(alert.Severity), alert.Message, alert.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("%w: insert alert: %w", ErrAlertStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", ErrAlertStoreFailed, err)
	}

	return affected > 0, nil
}

// GetAlert fetches one alert by id.
func (s *AlertStore) GetAlert(ctx context.Context, id string) (*alerting.Alert, error) {
	query := `
		SELECT id, source_type, source_id, severity, message, created_at, dismissed_at
		FROM alerts
		WHERE id = $1
	`

	var alert alerting.Alert

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&alert.ID, &alert.SourceType, &alert.SourceID, &alert.Severity,
		&alert.Message, &alert.CreatedAt, &alert.DismissedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerting.ErrAlertNotFound
		}

		return nil, fmt.Errorf("%w: get alert %q: %w", ErrAlertStoreFailed, id, err)
	}

	return &alert, nil
}

// QueryAlerts returns matching alerts ordered by created_at descending. The
// second return value is the total match count before pagination.
func (s *AlertStore) QueryAlerts(
	ctx context.Context,
	filter *alerting.Filter,
	limit, offset int,
) ([]alerting.Alert, int, error) {
	if filter == nil {
		filter = &alerting.Filter{}
	}

	where := ` WHERE ($1 = '' OR source_type = $1)
		  AND ($2 = '' OR severity = $2)
		  AND (NOT $3 OR dismissed_at IS NULL)`

	args := []any{string(filter.SourceType), string(filter.Severity), filter.LiveOnly}

	var total int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count alerts: %w", ErrAlertStoreFailed, err)
	}

	query := `
		SELECT id, source_type, source_id, severity, message, created_at, dismissed_at
		FROM alerts` + where + `
		ORDER BY created_at DESC, id ASC`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: query alerts: %w", ErrAlertStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var alerts []alerting.Alert

	for rows.Next() {
		var alert alerting.Alert

		if err := rows.Scan(&alert.ID, &alert.SourceType, &alert.SourceID, &alert.Severity,
			&alert.Message, &alert.CreatedAt, &alert.DismissedAt); err != nil {
			return nil, 0, fmt.Errorf("%w: scan alert: %w", ErrAlertStoreFailed, err)
		}

		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterate alerts: %w", ErrAlertStoreFailed, err)
	}

	return alerts, total, nil
}

// DismissAlert marks an alert dismissed. Re-dismissing keeps the original
// dismissal time, making the operation idempotent.
func (s *AlertStore) DismissAlert(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE alerts
		SET dismissed_at = COALESCE(dismissed_at, $2)
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("%w: dismiss alert %q: %w", ErrAlertStoreFailed, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", ErrAlertStoreFailed, err)
	}

	if affected == 0 {
		return alerting.ErrAlertNotFound
	}

	return nil
}
