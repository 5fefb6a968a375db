package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/qawatch-io/qawatch/internal/config"
	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// Engine defaults.
const (
	defaultTimeWindow     = 3600 * time.Second
	defaultScanWindow     = 30 * 24 * time.Hour
	defaultMinOccurrences = 3
	defaultStaleAfter     = 90 * 24 * time.Hour
	confidenceDenominator = 20
	directionalShare      = 0.7
)

// ErrInvalidTimeWindow is returned when the co-occurrence window is not positive.
var ErrInvalidTimeWindow = errors.New("correlation time window must be greater than zero")

// EngineConfig holds the correlation engine tuning knobs.
type EngineConfig struct {
	// TimeWindow is the sliding window within which a failed test and an
	// integration event count as co-occurring.
	TimeWindow time.Duration
	// ScanWindow is the trailing period scanned on each run.
	ScanWindow time.Duration
	// MinOccurrences suppresses pairs with fewer co-occurrences entirely.
	MinOccurrences int
	// StaleAfter prunes pairs with no new co-occurrence for this long.
	StaleAfter time.Duration
}

// LoadEngineConfig loads correlation settings from environment variables with
// fallback to defaults.
func LoadEngineConfig() *EngineConfig {
	return &EngineConfig{
		TimeWindow:     config.GetEnvDuration("QAWATCH_CORRELATION_WINDOW", defaultTimeWindow),
		ScanWindow:     config.GetEnvDuration("QAWATCH_CORRELATION_SCAN_WINDOW", defaultScanWindow),
		MinOccurrences: config.GetEnvInt("QAWATCH_CORRELATION_MIN_OCCURRENCES", defaultMinOccurrences),
		StaleAfter:     config.GetEnvDuration("QAWATCH_CORRELATION_STALE_AFTER", defaultStaleAfter),
	}
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.TimeWindow <= 0 {
		return ErrInvalidTimeWindow
	}

	return nil
}

// Engine joins TestResult and IntegrationEvent streams inside a sliding time
// window and upserts one Correlation row per observed pair.
type Engine struct {
	events ingestion.Store
	store  Store
	config *EngineConfig
	logger *slog.Logger

	now func() time.Time
}

// NewEngine creates a correlation engine. A nil config loads settings from
// the environment.
func NewEngine(events ingestion.Store, store Store, cfg *EngineConfig, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = LoadEngineConfig()
	}

	return &Engine{
		events: events,
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Name implements scheduler.Task.
func (e *Engine) Name() string { return "correlation-engine" }

// pairKey identifies one (test case, integration) pair.
type pairKey struct {
	testCaseID    string
	integrationID string
}

// pairStats accumulates co-occurrence evidence for one pair.
type pairStats struct {
	cooccurrences int
	failureFirst  int
	lastObserved  time.Time
}

// integrationMatch summarizes the in-window events of one integration around a
// single failed execution: the nearest event decides direction, the latest one
// refreshes lastObserved.
type integrationMatch struct {
	nearest  time.Duration
	observed time.Time
}

// Run executes one full recomputation: scan the trailing window, accumulate
// co-occurrences, upsert every pair with sufficient evidence, prune stale rows.
//
// Recomputation is a full upsert per pair per run, so a crashed-and-restarted
// run converges to the same stored state.
func (e *Engine) Run(ctx context.Context) error {
	startTime := e.now().UTC()
	from := startTime.Add(-e.config.ScanWindow)

	results, err := e.events.QueryTestResults(ctx, from, startTime)
	if err != nil {
		return fmt.Errorf("correlation: query test results: %w", err)
	}

	events, err := e.events.QueryIntegrationEvents(ctx, "", from, startTime)
	if err != nil {
		return fmt.Errorf("correlation: query integration events: %w", err)
	}

	correlations := e.Compute(results, events, startTime)

	for i := range correlations {
		if err := e.store.UpsertCorrelation(ctx, &correlations[i]); err != nil {
			return fmt.Errorf("correlation: upsert pair (%s, %s): %w",
				correlations[i].TestCaseID, correlations[i].IntegrationID, err)
		}
	}

	pruned, err := e.store.PruneStale(ctx, startTime.Add(-e.config.StaleAfter))
	if err != nil {
		return fmt.Errorf("correlation: prune stale pairs: %w", err)
	}

	e.logger.Info("Correlation pass complete",
		slog.Int("test_results", len(results)),
		slog.Int("integration_events", len(events)),
		slog.Int("pairs_upserted", len(correlations)),
		slog.Int("pairs_pruned", pruned),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return nil
}

// Compute derives correlation rows from an event window. Pure: the same
// inputs always produce the same output, in deterministic pair order.
func (e *Engine) Compute(results []ingestion.TestResult, events []ingestion.IntegrationEvent, computedAt time.Time) []Correlation {
	// Total executions per test case, the score denominator.
	executions := make(map[string]int)
	for i := range results {
		executions[results[i].TestCaseID]++
	}

	stats := make(map[pairKey]*pairStats)

	for i := range results {
		result := &results[i]
		if result.Outcome != ingestion.OutcomeFail {
			continue
		}

		// One failed execution is one piece of evidence per integration, no
		// matter how many of that integration's events land in the window.
		// Counting event pairs instead would push the score past 1.0 and
		// inflate the occurrence count the confidence is built on.
		matches := make(map[string]*integrationMatch)

		for j := range events {
			event := &events[j]

			delta := event.OccurredAt.Sub(result.ExecutedAt)
			if delta < -e.config.TimeWindow || delta > e.config.TimeWindow {
				continue
			}

			observed := event.OccurredAt
			if result.ExecutedAt.After(observed) {
				observed = result.ExecutedAt
			}

			m, ok := matches[event.IntegrationID]
			if !ok {
				matches[event.IntegrationID] = &integrationMatch{nearest: delta, observed: observed}

				continue
			}

			if closerThan(delta, m.nearest) {
				m.nearest = delta
			}

			if observed.After(m.observed) {
				m.observed = observed
			}
		}

		for integrationID, m := range matches {
			key := pairKey{testCaseID: result.TestCaseID, integrationID: integrationID}

			s, ok := stats[key]
			if !ok {
				s = &pairStats{}
				stats[key] = s
			}

			s.cooccurrences++

			// Failure precedes or coincides with the integration event.
			if m.nearest >= 0 {
				s.failureFirst++
			}

			if m.observed.After(s.lastObserved) {
				s.lastObserved = m.observed
			}
		}
	}

	keys := make([]pairKey, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].testCaseID != keys[j].testCaseID {
			return keys[i].testCaseID < keys[j].testCaseID
		}

		return keys[i].integrationID < keys[j].integrationID
	})

	correlations := make([]Correlation, 0, len(keys))

	for _, key := range keys {
		s := stats[key]
		if s.cooccurrences < e.config.MinOccurrences {
			continue // insufficient evidence, silently skipped
		}

		total := executions[key.testCaseID]
		if total == 0 {
			continue
		}

		score := float64(s.failureFirst) / float64(total)
		confidence := math.Min(1.0, float64(s.cooccurrences)/confidenceDenominator)

		correlations = append(correlations, Correlation{
			TestCaseID:        key.testCaseID,
			IntegrationID:     key.integrationID,
			Score:             score,
			Confidence:        confidence,
			Pattern:           directionLabel(s.failureFirst, s.cooccurrences),
			TimeWindowSeconds: int(e.config.TimeWindow / time.Second),
			TotalOccurrences:  s.cooccurrences,
			FailureFirstCount: s.failureFirst,
			LastObservedAt:    s.lastObserved,
			ComputedAt:        computedAt,
		})
	}

	return correlations
}

// closerThan reports whether candidate sits nearer the failure than current.
// Equidistant events on opposite sides resolve failure-first, independent of
// input order.
func closerThan(candidate, current time.Duration) bool {
	ca, cu := candidate.Abs(), current.Abs()
	if ca != cu {
		return ca < cu
	}

	return candidate >= 0 && current < 0
}

// directionLabel classifies pair ordering at the 70% boundary.
func directionLabel(failureFirst, total int) string {
	share := float64(failureFirst) / float64(total)

	switch {
	case share >= directionalShare:
		return PatternTestFirst
	case share <= 1-directionalShare:
		return PatternIntegrationFirst
	default:
		return PatternCoincident
	}
}
