// Package correlation scores temporal relationships between test cases and
// integration failure events.
//
// Directionality is approximated via temporal ordering of co-occurring events
// rather than true statistical causality. Event volumes are low and
// non-Gaussian, so the score is a conditional probability, not a Pearson
// coefficient. Stakeholder-facing docs must not over-interpret it.
package correlation

import (
	"context"
	"time"
)

// Directional pattern labels. A pair is labeled directional when at least 70%
// of its co-occurrences share an ordering; everything else is coincident.
const (
	PatternTestFirst        = "test_failure_precedes_integration_failure"
	PatternIntegrationFirst = "integration_failure_precedes_test_failure"
	PatternCoincident       = "coincident"
)

type (
	// Correlation is the scored relationship between one test case and one
	// integration. At most one live row per (test_case_id, integration_id);
	// recomputation upserts, with computed_at giving staleness.
	Correlation struct {
		TestCaseID        string    `json:"testCaseId"`
		IntegrationID     string    `json:"integrationId"`
		Score             float64   `json:"correlationScore"` // [0,1]
		Confidence        float64   `json:"confidence"`       // [0,1], grows with sample size
		Pattern           string    `json:"pattern"`
		TimeWindowSeconds int       `json:"timeWindowSeconds"`
		TotalOccurrences  int       `json:"totalOccurrences"` // co-occurrence count
		FailureFirstCount int       `json:"failureFirstCount"`
		LastObservedAt    time.Time `json:"lastObservedAt"` // newest co-occurrence, drives pruning
		ComputedAt        time.Time `json:"computedAt"`
	}

	// Filter narrows correlation queries. Nil/empty fields are ignored.
	Filter struct {
		TestCaseID    string
		IntegrationID string
		MinScore      *float64
	}
)

// Store is the persistence surface the correlation engine needs.
type Store interface {
	// UpsertCorrelation replaces the row for (test_case_id, integration_id).
	UpsertCorrelation(ctx context.Context, c *Correlation) error

	// QueryCorrelations returns matching rows ordered by score descending.
	QueryCorrelations(ctx context.Context, filter *Filter) ([]Correlation, error)

	// PruneStale deletes rows whose last observed co-occurrence is older than
	// cutoff. Returns the number of rows removed.
	PruneStale(ctx context.Context, cutoff time.Time) (int, error)
}
