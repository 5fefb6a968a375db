package correlation

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qawatch-io/qawatch/internal/ingestion"
)

func testEngine() *Engine {
	cfg := &EngineConfig{
		TimeWindow:     3600 * time.Second,
		ScanWindow:     30 * 24 * time.Hour,
		MinOccurrences: 3,
		StaleAfter:     90 * 24 * time.Hour,
	}

	return NewEngine(nil, nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// pairScenario builds n failures of one test case, each followed by an
// integration event gap later. Extra passing executions pad the denominator.
func pairScenario(n int, gap time.Duration, passes int) ([]ingestion.TestResult, []ingestion.IntegrationEvent) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	var (
		results []ingestion.TestResult
		events  []ingestion.IntegrationEvent
	)

	for i := 0; i < n; i++ {
		executedAt := base.Add(time.Duration(i) * 6 * time.Hour)
		results = append(results, ingestion.TestResult{
			TestCaseID: "tc-pricing",
			Outcome:    ingestion.OutcomeFail,
			ExecutedAt: executedAt,
		})
		events = append(events, ingestion.IntegrationEvent{
			IntegrationID: "booking-com",
			EventType:     ingestion.EventTypePricingSyncError,
			Magnitude:     1,
			Source:        ingestion.SourceAPI,
			OccurredAt:    executedAt.Add(gap),
		})
	}

	for i := 0; i < passes; i++ {
		results = append(results, ingestion.TestResult{
			TestCaseID: "tc-pricing",
			Outcome:    ingestion.OutcomePass,
			ExecutedAt: base.Add(time.Duration(n+i) * 6 * time.Hour),
		})
	}

	return results, events
}

func TestEngine_Compute_SuppressesBelowMinOccurrences(t *testing.T) {
	engine := testEngine()

	results, events := pairScenario(2, 10*time.Minute, 0)
	correlations := engine.Compute(results, events, time.Now().UTC())

	assert.Empty(t, correlations)
}

func TestEngine_Compute_EmitsAtMinOccurrences(t *testing.T) {
	engine := testEngine()

	results, events := pairScenario(3, 10*time.Minute, 0)
	correlations := engine.Compute(results, events, time.Now().UTC())

	require.Len(t, correlations, 1)

	c := correlations[0]
	assert.Equal(t, "tc-pricing", c.TestCaseID)
	assert.Equal(t, "booking-com", c.IntegrationID)
	assert.Equal(t, 3, c.TotalOccurrences)
	assert.Equal(t, 3, c.FailureFirstCount)
	assert.InDelta(t, 1.0, c.Score, 1e-9)
	assert.InDelta(t, 0.15, c.Confidence, 1e-9)
	assert.Equal(t, 3600, c.TimeWindowSeconds)
}

func TestEngine_Compute_ScoreUsesTotalExecutions(t *testing.T) {
	engine := testEngine()

	// 4 failures with co-occurring events, 4 passing executions: the score is
	// failure-first count over all executions, not over failures.
	results, events := pairScenario(4, 10*time.Minute, 4)
	correlations := engine.Compute(results, events, time.Now().UTC())

	require.Len(t, correlations, 1)
	assert.InDelta(t, 0.5, correlations[0].Score, 1e-9)
	assert.InDelta(t, 0.2, correlations[0].Confidence, 1e-9)
}

func TestEngine_Compute_MultipleEventsCountOncePerExecution(t *testing.T) {
	engine := testEngine()
	engine.config.MinOccurrences = 1

	// One failed execution surrounded by three events of the same integration:
	// a single piece of evidence, not three.
	executedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	results := []ingestion.TestResult{{
		TestCaseID: "tc-pricing",
		Outcome:    ingestion.OutcomeFail,
		ExecutedAt: executedAt,
	}}

	var events []ingestion.IntegrationEvent
	for _, gap := range []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute} {
		events = append(events, ingestion.IntegrationEvent{
			IntegrationID: "booking-com",
			EventType:     ingestion.EventTypePricingSyncError,
			Magnitude:     1,
			Source:        ingestion.SourceAPI,
			OccurredAt:    executedAt.Add(gap),
		})
	}

	correlations := engine.Compute(results, events, time.Now().UTC())

	require.Len(t, correlations, 1)

	c := correlations[0]
	assert.Equal(t, 1, c.TotalOccurrences)
	assert.Equal(t, 1, c.FailureFirstCount)
	assert.InDelta(t, 1.0, c.Score, 1e-9)
	assert.InDelta(t, 0.05, c.Confidence, 1e-9)
	assert.True(t, c.LastObservedAt.Equal(executedAt.Add(15*time.Minute)))
}

func TestEngine_Compute_ScoreStaysWithinUnitRange(t *testing.T) {
	engine := testEngine()

	// Every failure sees two events of the same integration; the score
	// denominator is executions, so it must cap at 1.0.
	results, events := pairScenario(3, 10*time.Minute, 0)
	for i := range results {
		events = append(events, ingestion.IntegrationEvent{
			IntegrationID: "booking-com",
			EventType:     ingestion.EventTypeFeeSyncError,
			Magnitude:     1,
			Source:        ingestion.SourceAPI,
			OccurredAt:    results[i].ExecutedAt.Add(20 * time.Minute),
		})
	}

	correlations := engine.Compute(results, events, time.Now().UTC())

	require.Len(t, correlations, 1)

	c := correlations[0]
	assert.LessOrEqual(t, c.Score, 1.0)
	assert.InDelta(t, 1.0, c.Score, 1e-9)
	assert.Equal(t, 3, c.TotalOccurrences)
	assert.Equal(t, 3, c.FailureFirstCount)
	assert.InDelta(t, 0.15, c.Confidence, 1e-9)
}

func TestEngine_Compute_NearestEventDecidesDirection(t *testing.T) {
	engine := testEngine()
	engine.config.MinOccurrences = 1

	executedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	results := []ingestion.TestResult{{
		TestCaseID: "tc-pricing",
		Outcome:    ingestion.OutcomeFail,
		ExecutedAt: executedAt,
	}}

	// A distant preceding event and a close following one: the close one wins.
	events := []ingestion.IntegrationEvent{
		{
			IntegrationID: "booking-com",
			EventType:     ingestion.EventTypePricingSyncError,
			Magnitude:     1,
			Source:        ingestion.SourceAPI,
			OccurredAt:    executedAt.Add(-30 * time.Minute),
		},
		{
			IntegrationID: "booking-com",
			EventType:     ingestion.EventTypePricingSyncError,
			Magnitude:     1,
			Source:        ingestion.SourceAPI,
			OccurredAt:    executedAt.Add(5 * time.Minute),
		},
	}

	correlations := engine.Compute(results, events, time.Now().UTC())

	require.Len(t, correlations, 1)
	assert.Equal(t, 1, correlations[0].TotalOccurrences)
	assert.Equal(t, 1, correlations[0].FailureFirstCount)
	assert.Equal(t, PatternTestFirst, correlations[0].Pattern)
}

func TestEngine_Compute_WindowBoundary(t *testing.T) {
	engine := testEngine()

	// Events exactly at the window edge co-occur; one second past does not.
	results, events := pairScenario(3, 3600*time.Second, 0)
	assert.Len(t, engine.Compute(results, events, time.Now().UTC()), 1)

	results, events = pairScenario(3, 3601*time.Second, 0)
	assert.Empty(t, engine.Compute(results, events, time.Now().UTC()))
}

func TestEngine_Compute_DirectionLabels(t *testing.T) {
	engine := testEngine()

	t.Run("failure first", func(t *testing.T) {
		results, events := pairScenario(5, 10*time.Minute, 0)
		correlations := engine.Compute(results, events, time.Now().UTC())

		require.Len(t, correlations, 1)
		assert.Equal(t, PatternTestFirst, correlations[0].Pattern)
	})

	t.Run("integration first", func(t *testing.T) {
		results, events := pairScenario(5, -10*time.Minute, 0)
		correlations := engine.Compute(results, events, time.Now().UTC())

		require.Len(t, correlations, 1)
		assert.Equal(t, PatternIntegrationFirst, correlations[0].Pattern)
	})

	t.Run("coincident", func(t *testing.T) {
		// Half the events precede the failure, half follow: no clear ordering.
		resultsA, eventsA := pairScenario(2, 10*time.Minute, 0)
		base := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

		for i := 0; i < 2; i++ {
			executedAt := base.Add(time.Duration(i) * 6 * time.Hour)
			resultsA = append(resultsA, ingestion.TestResult{
				TestCaseID: "tc-pricing",
				Outcome:    ingestion.OutcomeFail,
				ExecutedAt: executedAt,
			})
			eventsA = append(eventsA, ingestion.IntegrationEvent{
				IntegrationID: "booking-com",
				EventType:     ingestion.EventTypePricingSyncError,
				Magnitude:     1,
				Source:        ingestion.SourceAPI,
				OccurredAt:    executedAt.Add(-10 * time.Minute),
			})
		}

		correlations := engine.Compute(resultsA, eventsA, time.Now().UTC())

		require.Len(t, correlations, 1)
		assert.Equal(t, PatternCoincident, correlations[0].Pattern)
		assert.Equal(t, 4, correlations[0].TotalOccurrences)
		assert.Equal(t, 2, correlations[0].FailureFirstCount)
	})
}

func TestEngine_Compute_Deterministic(t *testing.T) {
	engine := testEngine()

	results, events := pairScenario(5, 10*time.Minute, 3)
	computedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	first := engine.Compute(results, events, computedAt)
	second := engine.Compute(results, events, computedAt)

	assert.Equal(t, first, second)
}

func TestEngine_Compute_LastObservedAt(t *testing.T) {
	engine := testEngine()

	results, events := pairScenario(3, 10*time.Minute, 0)
	correlations := engine.Compute(results, events, time.Now().UTC())

	require.Len(t, correlations, 1)

	// Newest co-occurrence timestamp, whichever side of the pair it is.
	want := events[len(events)-1].OccurredAt
	assert.True(t, correlations[0].LastObservedAt.Equal(want))
}

func TestDirectionLabel_Boundaries(t *testing.T) {
	assert.Equal(t, PatternTestFirst, directionLabel(7, 10))
	assert.Equal(t, PatternCoincident, directionLabel(6, 10))
	assert.Equal(t, PatternCoincident, directionLabel(4, 10))
	assert.Equal(t, PatternIntegrationFirst, directionLabel(3, 10))
}

func TestEngineConfig_Validate(t *testing.T) {
	cfg := &EngineConfig{TimeWindow: time.Hour}
	require.NoError(t, cfg.Validate())

	cfg.TimeWindow = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidTimeWindow)
}
