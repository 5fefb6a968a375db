// Package alerting turns detected patterns, strong correlations and revenue
// impact into actionable alerts.
package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/qawatch-io/qawatch/internal/detector"
)

// SourceType identifies which engine produced the alert.
type SourceType string

// Alert source types.
const (
	SourcePattern     SourceType = "pattern"
	SourceCorrelation SourceType = "correlation"
	SourceRevenue     SourceType = "revenue"
)

// IsValid checks the source type against known values.
func (s SourceType) IsValid() bool {
	switch s {
	case SourcePattern, SourceCorrelation, SourceRevenue:
		return true
	default:
		return false
	}
}

// ErrAlertNotFound is returned when a dismissal targets an unknown alert.
var ErrAlertNotFound = errors.New("alert not found")

type (
	// Alert is one actionable finding surfaced to operators. An alert is live
	// until dismissed; at most one live alert exists per (source_type,
	// source_id), so re-triggering an already-surfaced condition is a no-op.
	Alert struct {
		ID          string            `json:"id"`
		SourceType  SourceType        `json:"sourceType"`
		SourceID    string            `json:"sourceId"`
		Severity    detector.Severity `json:"severity"`
		Message     string            `json:"message"`
		CreatedAt   time.Time         `json:"createdAt"`
		DismissedAt *time.Time        `json:"dismissedAt,omitempty"`
	}

	// Filter narrows alert queries. Nil/empty fields are ignored.
	Filter struct {
		SourceType SourceType
		Severity   detector.Severity
		// LiveOnly restricts to alerts not yet dismissed.
		LiveOnly bool
	}
)

// Store is the persistence surface the dispatcher and the API need.
type Store interface {
	// CreateAlert inserts a new alert. When a live alert already exists for
	// the same (source_type, source_id) it reports created=false and leaves
	// the stored alert untouched.
	CreateAlert(ctx context.Context, alert *Alert) (created bool, err error)

	// GetAlert fetches one alert by id. Returns ErrAlertNotFound when absent.
	GetAlert(ctx context.Context, id string) (*Alert, error)

	// QueryAlerts returns matching alerts ordered by created_at descending.
	QueryAlerts(ctx context.Context, filter *Filter, limit, offset int) ([]Alert, int, error)

	// DismissAlert marks an alert dismissed at the given time. Dismissing an
	// already-dismissed alert is idempotent. Returns ErrAlertNotFound when the
	// id does not exist.
	DismissAlert(ctx context.Context, id string, at time.Time) error
}
