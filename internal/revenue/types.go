// Package revenue quantifies the booking-revenue impact of integration
// defects.
//
// The calculator is a pure function of the integration events in a period,
// the per-integration revenue configuration, and the active correlations.
// Given the same inputs it is bit-for-bit reproducible: these numbers are
// shown to stakeholders as evidence, so determinism is a contract, not a
// preference.
package revenue

import (
	"context"
	"time"
)

// Category groups integration events by the revenue stream they threaten.
type Category string

// Revenue categories. Ordering here is the fixed computation order.
const (
	CategoryPricing     Category = "pricing"
	CategoryFees        Category = "fees"
	CategoryBookingLoss Category = "booking_loss"
)

// Categories lists all categories in fixed computation order.
func Categories() []Category {
	return []Category{CategoryPricing, CategoryFees, CategoryBookingLoss}
}

type (
	// Impact is a quantified loss/protection estimate for one integration,
	// category and period. Recomputation overwrites the row for that period:
	// it is a derived, always-recomputable aggregate, not history.
	Impact struct {
		IntegrationID    string    `json:"integrationId"`
		Category         Category  `json:"category"`
		PeriodStart      time.Time `json:"periodStart"`
		PeriodEnd        time.Time `json:"periodEnd"`
		RevenueAtRisk    float64   `json:"revenueAtRisk"`
		RevenueProtected float64   `json:"revenueProtected"`
		ComputedAt       time.Time `json:"computedAt"`
	}

	// Filter narrows impact queries. Nil/empty fields are ignored.
	Filter struct {
		IntegrationID string
		Category      *Category
		PeriodAfter   *time.Time
		PeriodBefore  *time.Time
	}

	// IntegrationConfig is the per-integration revenue configuration record,
	// loaded fresh on every computation run.
	IntegrationConfig struct {
		IntegrationID     string  `yaml:"integration_id"     json:"integrationId"`
		AvgBookingValue   float64 `yaml:"avg_booking_value"  json:"avgBookingValue"`
		LeakagePercentage float64 `yaml:"leakage_percentage" json:"leakagePercentage"`
	}
)

// Store is the persistence surface the calculator needs.
type Store interface {
	// UpsertImpact replaces the row for (integration_id, category, period_start).
	UpsertImpact(ctx context.Context, impact *Impact) error

	// QueryImpacts returns matching rows ordered by period_start ascending
	// (trend charts rely on ascending order).
	QueryImpacts(ctx context.Context, filter *Filter) ([]Impact, error)
}

// ConfigStore provides the per-integration configuration records.
type ConfigStore interface {
	// ListIntegrationConfigs returns all configured integrations ordered by id.
	ListIntegrationConfigs(ctx context.Context) ([]IntegrationConfig, error)
}
