package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/detector"
	"github.com/qawatch-io/qawatch/internal/ingestion"
)

func TestMemoryStore_AppendTimeLog_Dedup(t *testing.T) {
	store := NewMemoryStore()

	log := &ingestion.WorkflowTimeLog{
		TicketID:         "PM-1",
		EstimatedSeconds: 3600,
		ActualSeconds:    7200,
		CompletedAt:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	stored, duplicate, err := store.AppendTimeLog(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.False(t, duplicate)

	stored, duplicate, err = store.AppendTimeLog(context.Background(), log)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.True(t, duplicate)

	logs, err := store.QueryTimeLogs(context.Background(),
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMemoryStore_AppendTimeLog_Validation(t *testing.T) {
	store := NewMemoryStore()

	_, _, err := store.AppendTimeLog(context.Background(), &ingestion.WorkflowTimeLog{
		TicketID:         "PM-1",
		EstimatedSeconds: 0,
		ActualSeconds:    100,
		CompletedAt:      time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ingestion.ErrInvalidEstimatedSeconds)

	_, _, err = store.AppendTimeLog(context.Background(), &ingestion.WorkflowTimeLog{
		EstimatedSeconds: 3600,
		ActualSeconds:    100,
		CompletedAt:      time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ingestion.ErrMissingTicketID)
}

func TestMemoryStore_AppendTestResult_Dedup(t *testing.T) {
	store := NewMemoryStore()

	result := &ingestion.TestResult{
		TestCaseID: "tc-1",
		Outcome:    ingestion.OutcomeFail,
		ExecutedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	stored, duplicate, err := store.AppendTestResult(context.Background(), result)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.False(t, duplicate)

	// Same natural key with a different outcome is still a duplicate; the
	// first write wins.
	retry := &ingestion.TestResult{
		TestCaseID: "tc-1",
		Outcome:    ingestion.OutcomePass,
		ExecutedAt: result.ExecutedAt,
	}

	stored, duplicate, err = store.AppendTestResult(context.Background(), retry)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.True(t, duplicate)

	results, err := store.QueryTestResults(context.Background(),
		result.ExecutedAt.Add(-time.Hour), result.ExecutedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ingestion.OutcomeFail, results[0].Outcome)
}

func TestMemoryStore_AppendIntegrationEvent_NaturalKeyIncludesType(t *testing.T) {
	store := NewMemoryStore()

	occurredAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for _, eventType := range []ingestion.EventType{
		ingestion.EventTypePricingSyncError,
		ingestion.EventTypeFeeSyncError,
	} {
		stored, duplicate, err := store.AppendIntegrationEvent(context.Background(), &ingestion.IntegrationEvent{
			IntegrationID: "booking-com",
			EventType:     eventType,
			Magnitude:     1,
			Source:        ingestion.SourceAPI,
			OccurredAt:    occurredAt,
		})
		require.NoError(t, err)
		assert.True(t, stored)
		assert.False(t, duplicate)
	}

	events, err := store.QueryIntegrationEvents(context.Background(), "booking-com",
		occurredAt.Add(-time.Hour), occurredAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryStore_QueryRangeIsHalfOpen(t *testing.T) {
	store := NewMemoryStore()

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	for _, completedAt := range []time.Time{from.Add(-time.Second), from, to.Add(-time.Second), to} {
		_, _, err := store.AppendTimeLog(context.Background(), &ingestion.WorkflowTimeLog{
			TicketID:         "PM-1",
			EstimatedSeconds: 3600,
			ActualSeconds:    3600,
			CompletedAt:      completedAt,
		})
		require.NoError(t, err)
	}

	logs, err := store.QueryTimeLogs(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CompletedAt.Equal(from))
	assert.True(t, logs[1].CompletedAt.Equal(to.Add(-time.Second)))
}

func TestMemoryStore_QueryPatterns_Pagination(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		entities := []string{"PM-1"}
		require.NoError(t, store.CreatePattern(context.Background(), &detector.Pattern{
			Type:             detector.PatternTimeExcess,
			Severity:         detector.SeverityWarning,
			ConfidenceScore:  0.5,
			AffectedEntities: entities,
			Description:      "excess",
			DetectedAt:       base.Add(time.Duration(i) * time.Hour),
			EntityKey:        detector.EntityKey(detector.PatternTimeExcess, entities),
		}))
	}

	page, total, err := store.QueryPatterns(context.Background(), nil, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)

	// Reverse chronological: newest first.
	assert.True(t, page[0].DetectedAt.After(page[1].DetectedAt))

	// Limit 0 disables pagination.
	all, total, err := store.QueryPatterns(context.Background(), nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, all, 5)

	// Offset past the end yields an empty page, not an error.
	empty, total, err := store.QueryPatterns(context.Background(), nil, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)
}

func TestMemoryStore_LatestPattern(t *testing.T) {
	store := NewMemoryStore()
	entities := []string{"PM-1", "PM-2"}
	key := detector.EntityKey(detector.PatternSpike, entities)

	older := &detector.Pattern{
		Type:             detector.PatternSpike,
		Severity:         detector.SeverityWarning,
		AffectedEntities: entities,
		DetectedAt:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EntityKey:        key,
	}
	newer := &detector.Pattern{
		Type:             detector.PatternSpike,
		Severity:         detector.SeverityCritical,
		AffectedEntities: entities,
		DetectedAt:       time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		EntityKey:        key,
	}

	require.NoError(t, store.CreatePattern(context.Background(), older))
	require.NoError(t, store.CreatePattern(context.Background(), newer))

	latest, err := store.LatestPattern(context.Background(), detector.PatternSpike, key)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, detector.SeverityCritical, latest.Severity)

	missing, err := store.LatestPattern(context.Background(), detector.PatternTimeExcess, key)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_UpsertSnapshot_OneRowPerIntegration(t *testing.T) {
	store := NewMemoryStore()

	first := &detector.HealthSnapshot{
		IntegrationID: "booking-com",
		Status:        detector.StatusCritical,
		LastUpdated:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.UpsertSnapshot(context.Background(), first))

	second := &detector.HealthSnapshot{
		IntegrationID: "booking-com",
		Status:        detector.StatusHealthy,
		LastUpdated:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.UpsertSnapshot(context.Background(), second))

	snapshot, err := store.GetSnapshot(context.Background(), "booking-com")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, detector.StatusHealthy, snapshot.Status)

	snapshots, err := store.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestMemoryStore_UpsertCorrelation_ReplacesPair(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertCorrelation(context.Background(), &correlation.Correlation{
		TestCaseID:     "tc-1",
		IntegrationID:  "booking-com",
		Score:          0.5,
		LastObservedAt: now,
		ComputedAt:     now,
	}))
	require.NoError(t, store.UpsertCorrelation(context.Background(), &correlation.Correlation{
		TestCaseID:     "tc-1",
		IntegrationID:  "booking-com",
		Score:          0.9,
		LastObservedAt: now,
		ComputedAt:     now,
	}))

	rows, err := store.QueryCorrelations(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 0.9, rows[0].Score, 1e-9)
}

func TestMemoryStore_PruneStale(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertCorrelation(context.Background(), &correlation.Correlation{
		TestCaseID:     "tc-stale",
		IntegrationID:  "booking-com",
		LastObservedAt: now.Add(-100 * 24 * time.Hour),
		ComputedAt:     now,
	}))
	require.NoError(t, store.UpsertCorrelation(context.Background(), &correlation.Correlation{
		TestCaseID:     "tc-fresh",
		IntegrationID:  "booking-com",
		LastObservedAt: now.Add(-time.Hour),
		ComputedAt:     now,
	}))

	pruned, err := store.PruneStale(context.Background(), now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	rows, err := store.QueryCorrelations(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tc-fresh", rows[0].TestCaseID)
}

func TestMemoryStore_CreateAlert_LiveUniqueness(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	created, err := store.CreateAlert(context.Background(), &alerting.Alert{
		ID:         "a-1",
		SourceType: alerting.SourcePattern,
		SourceID:   "p-1",
		Severity:   detector.SeverityCritical,
		Message:    "first",
		CreatedAt:  now,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateAlert(context.Background(), &alerting.Alert{
		ID:         "a-2",
		SourceType: alerting.SourcePattern,
		SourceID:   "p-1",
		Severity:   detector.SeverityCritical,
		Message:    "second",
		CreatedAt:  now,
	})
	require.NoError(t, err)
	assert.False(t, created)

	// A different source id is unaffected.
	created, err = store.CreateAlert(context.Background(), &alerting.Alert{
		ID:         "a-3",
		SourceType: alerting.SourcePattern,
		SourceID:   "p-2",
		Severity:   detector.SeverityCritical,
		Message:    "other",
		CreatedAt:  now,
	})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryStore_DismissAlert_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	_, err := store.CreateAlert(context.Background(), &alerting.Alert{
		ID:         "a-1",
		SourceType: alerting.SourceRevenue,
		SourceID:   "r-1",
		Severity:   detector.SeverityCritical,
		CreatedAt:  now,
	})
	require.NoError(t, err)

	firstDismissal := now.Add(time.Minute)
	require.NoError(t, store.DismissAlert(context.Background(), "a-1", firstDismissal))

	// A second dismissal keeps the original timestamp.
	require.NoError(t, store.DismissAlert(context.Background(), "a-1", now.Add(time.Hour)))

	alert, err := store.GetAlert(context.Background(), "a-1")
	require.NoError(t, err)
	require.NotNil(t, alert.DismissedAt)
	assert.True(t, alert.DismissedAt.Equal(firstDismissal))

	assert.ErrorIs(t, store.DismissAlert(context.Background(), "missing", now), alerting.ErrAlertNotFound)
}

func TestMemoryStore_QueryAlerts_LiveOnly(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	for i, id := range []string{"a-1", "a-2"} {
		_, err := store.CreateAlert(context.Background(), &alerting.Alert{
			ID:         id,
			SourceType: alerting.SourcePattern,
			SourceID:   "p-" + id,
			Severity:   detector.SeverityWarning,
			CreatedAt:  now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.DismissAlert(context.Background(), "a-1", now.Add(time.Hour)))

	live, total, err := store.QueryAlerts(context.Background(), &alerting.Filter{LiveOnly: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, live, 1)
	assert.Equal(t, "a-2", live[0].ID)

	all, total, err := store.QueryAlerts(context.Background(), nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)
}
