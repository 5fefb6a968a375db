package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qawatch-io/qawatch/internal/revenue"
)

// ErrRevenueStoreFailed is returned when a revenue storage operation fails.
var ErrRevenueStoreFailed = errors.New("revenue storage failed")

var (
	_ revenue.Store       = (*RevenueStore)(nil)
	_ revenue.ConfigStore = (*RevenueStore)(nil)
)

// RevenueStore implements revenue.Store and revenue.ConfigStore with a
// PostgreSQL backend. One impact row per (integration_id, category,
// period_start); recomputation upserts in place.
type RevenueStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRevenueStore creates a PostgreSQL-backed revenue store.
func NewRevenueStore(conn *Connection, logger *slog.Logger) (*RevenueStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RevenueStore{conn: conn, logger: logger}, nil
}

// UpsertImpact replaces the row for (integration_id, category, period_start).
func (s *RevenueStore) UpsertImpact(ctx context.Context, impact *revenue.Impact) error {
	query := `
		INSERT INTO revenue_impacts (
			integration_id, category, period_start, period_end,
			revenue_at_risk, revenue_protected, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (integration_id, category, period_start) DO UPDATE SET
			period_end = EXCLUDED.period_end,
			revenue_at_risk = EXCLUDED.revenue_at_risk,
			revenue_protected = EXCLUDED.revenue_protected,
			computed_at = EXCLUDED.computed_at
	`

	_, err := s.conn.ExecContext(ctx, query,
		impact.IntegrationID, string(impact.Category), impact.PeriodStart.UTC(),
		impact.PeriodEnd.UTC(), impact.RevenueAtRisk, impact.RevenueProtected,
		impact.ComputedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: upsert impact for %q: %w", ErrRevenueStoreFailed, impact.IntegrationID, err)
	}

	return nil
}

// QueryImpacts returns matching rows ordered by period_start ascending.
func (s *RevenueStore) QueryImpacts(ctx context.Context, filter *revenue.Filter) ([]revenue.Impact, error) {
	if filter == nil {
		filter = &revenue.Filter{}
	}

	var category string
	if filter.Category != nil {
		category = string(*filter.Category)
	}

	query := `
		SELECT integration_id, category, period_start, period_end,
		       revenue_at_risk, revenue_protected, computed_at
		FROM revenue_impacts
		WHERE ($1 = '' OR integration_id = $1)
		  AND ($2 = '' OR category = $2)
		  AND ($3::timestamptz IS NULL OR period_start >= $3)
		  AND ($4::timestamptz IS NULL OR period_start < $4)
		ORDER BY period_start ASC, integration_id ASC, category ASC
	`

	rows, err := s.conn.QueryContext(ctx, query,
		filter.IntegrationID, category, filter.PeriodAfter, filter.PeriodBefore)
	if err != nil {
		return nil, fmt.Errorf("%w: query impacts: %w", ErrRevenueStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var impacts []revenue.Impact

	for rows.Next() {
		var impact revenue.Impact

		if err := rows.Scan(&impact.IntegrationID, &impact.Category, &impact.PeriodStart,
			&impact.PeriodEnd, &impact.RevenueAtRisk, &impact.RevenueProtected,
			&impact.ComputedAt); err != nil {
			return nil, fmt.Errorf("%w: scan impact: %w", ErrRevenueStoreFailed, err)
		}

		impacts = append(impacts, impact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate impacts: %w", ErrRevenueStoreFailed, err)
	}

	return impacts, nil
}

// ListIntegrationConfigs returns all configured integrations ordered by id.
func (s *RevenueStore) ListIntegrationConfigs(ctx context.Context) ([]revenue.IntegrationConfig, error) {
	query := `
		SELECT integration_id, avg_booking_value, leakage_percentage
		FROM integration_configs
		ORDER BY integration_id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list integration configs: %w", ErrRevenueStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var configs []revenue.IntegrationConfig

	for rows.Next() {
		var cfg revenue.IntegrationConfig

		if err := rows.Scan(&cfg.IntegrationID, &cfg.AvgBookingValue, &cfg.LeakagePercentage); err != nil {
			return nil, fmt.Errorf("%w: scan integration config: %w", ErrRevenueStoreFailed, err)
		}

		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate integration configs: %w", ErrRevenueStoreFailed, err)
	}

	return configs, nil
}
