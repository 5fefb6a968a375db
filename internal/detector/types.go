// Package detector provides statistical anomaly detection over workflow
// time-tracking logs and integration event streams.
//
// Three deterministic rules run over a trailing window: time-excess clusters,
// consecutive-problem runs, and magnitude spikes. Each detection produces an
// immutable Pattern row; repeated detection of an unchanged condition is
// suppressed by comparing against the latest stored Pattern of the same type
// and entity set, so history is preserved without duplication.
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// PatternType classifies a detected anomaly.
type PatternType string

// Valid pattern types.
const (
	PatternTimeExcess         PatternType = "time_excess"
	PatternConsecutiveProblem PatternType = "consecutive_problem"
	PatternSpike              PatternType = "spike"
)

// Severity grades a detected anomaly.
type Severity string

// Severity levels, ordered info < warning < critical.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank maps severities onto a total order for max comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}

	return s
}

// HealthStatus is the aggregated status of one integration.
type HealthStatus string

// Health statuses, ordered healthy < warning < critical.
const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

func (h HealthStatus) rank() int {
	switch h {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of two health statuses.
func (h HealthStatus) Max(other HealthStatus) HealthStatus {
	if other.rank() > h.rank() {
		return other
	}

	return h
}

type (
	// Pattern is a detected statistical anomaly. Never mutated after creation;
	// a repeated detection of a changed condition produces a new row with
	// detected_at advanced.
	Pattern struct {
		ID               string      `json:"id"`
		Type             PatternType `json:"patternType"`
		Severity         Severity    `json:"severity"`
		ConfidenceScore  float64     `json:"confidenceScore"` // [0,1], sample sufficiency
		AffectedEntities []string    `json:"affectedEntities"`
		CommonFactor     string      `json:"commonFactor,omitempty"` // shared component tag, if any
		Description      string      `json:"description"`
		// AvgExcessPercent is only set for time_excess patterns.
		AvgExcessPercent *float64  `json:"averageExcessPercent,omitempty"`
		DetectedAt       time.Time `json:"detectedAt"`
		// EntityKey is a stable digest of (type, sorted entities) used for
		// re-detection comparison. Derived, never user supplied.
		EntityKey string `json:"-"`
	}

	// HealthSnapshot is the current denormalized status of one integration.
	// Exactly one current row per integration_id; overwritten in place, never
	// deleted.
	HealthSnapshot struct {
		IntegrationID     string       `json:"integrationId"`
		Status            HealthStatus `json:"status"`
		PricingSyncStatus HealthStatus `json:"pricingSyncStatus"`
		FeesSyncStatus    HealthStatus `json:"feesSyncStatus"`
		BookingLossStatus HealthStatus `json:"bookingLossStatus"`
		ErrorRate         float64      `json:"errorRate"` // [0,1]
		LastUpdated       time.Time    `json:"lastUpdated"`
	}

	// PatternFilter narrows pattern history queries. Nil fields are ignored;
	// filters combine with AND.
	PatternFilter struct {
		Type           *PatternType
		Severity       *Severity
		DetectedAfter  *time.Time
		DetectedBefore *time.Time
	}
)

// PatternStore is the persistence surface the detector needs. The storage
// package provides PostgreSQL and in-memory implementations.
type PatternStore interface {
	// CreatePattern appends a new pattern row. Pattern rows are append-only.
	CreatePattern(ctx context.Context, p *Pattern) error

	// LatestPattern returns the most recent pattern with the given type and
	// entity key, or nil if none exists.
	LatestPattern(ctx context.Context, patternType PatternType, entityKey string) (*Pattern, error)

	// QueryPatterns returns matching patterns, reverse-chronological by
	// detected_at, limited/offset for pagination.
	QueryPatterns(ctx context.Context, filter *PatternFilter, limit, offset int) ([]Pattern, int, error)
}

// SnapshotStore persists integration health snapshots. Only the detector
// writes snapshots; writes to the same row are serialized by the storage layer.
type SnapshotStore interface {
	// UpsertSnapshot atomically replaces the current snapshot for the
	// integration.
	UpsertSnapshot(ctx context.Context, s *HealthSnapshot) error

	// GetSnapshot returns the current snapshot, or nil if the integration has
	// never been scored.
	GetSnapshot(ctx context.Context, integrationID string) (*HealthSnapshot, error)

	// ListSnapshots returns all current snapshots ordered by integration_id.
	ListSnapshots(ctx context.Context) ([]HealthSnapshot, error)
}

// EntityKey computes the stable digest used to compare a detection against the
// latest stored pattern of the same type. Entities are sorted so ordering
// differences in the input never change the key.
func EntityKey(patternType PatternType, entities []string) string {
	sorted := make([]string, len(entities))
	copy(sorted, entities)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(patternType))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x00")))

	return hex.EncodeToString(h.Sum(nil))
}
