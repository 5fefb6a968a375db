package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qawatch-io/qawatch/internal/detector"
)

func seedPatternRow(
	ctx context.Context,
	t *testing.T,
	store *PatternStore,
	patternType detector.PatternType,
	severity detector.Severity,
	detectedAt time.Time,
) string {
	t.Helper()

	p := &detector.Pattern{
		Type:             patternType,
		Severity:         severity,
		ConfidenceScore:  0.9,
		AffectedEntities: []string{"PM-1", "PM-2", "PM-3"},
		CommonFactor:     "payment-api",
		Description:      "tickets sharing payment-api ran over estimate",
		EntityKey:        "payment-api",
		DetectedAt:       detectedAt,
	}
	require.NoError(t, store.CreatePattern(ctx, p))

	return p.ID
}

func TestPatternStore_CreateAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewPatternStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedPatternRow(ctx, t, store, detector.PatternTimeExcess, detector.SeverityCritical, now)
	seedPatternRow(ctx, t, store, detector.PatternSpike, detector.SeverityWarning, now.Add(-time.Hour))
	seedPatternRow(ctx, t, store, detector.PatternConsecutiveProblem, detector.SeverityCritical, now.Add(-2*time.Hour))

	patterns, total, err := store.QueryPatterns(ctx, nil, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, patterns, 3)

	// Newest first.
	assert.Equal(t, detector.PatternTimeExcess, patterns[0].Type)
	assert.Equal(t, []string{"PM-1", "PM-2", "PM-3"}, patterns[0].AffectedEntities)

	severity := detector.SeverityCritical
	patterns, total, err = store.QueryPatterns(ctx, &detector.PatternFilter{Severity: &severity}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, patterns, 2)
}

func TestPatternStore_QueryPatterns_Pagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewPatternStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		seedPatternRow(ctx, t, store, detector.PatternSpike, detector.SeverityWarning,
			now.Add(-time.Duration(i)*time.Hour))
	}

	patterns, total, err := store.QueryPatterns(ctx, nil, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, patterns, 2)

	// Limit 0 disables pagination.
	patterns, total, err = store.QueryPatterns(ctx, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, patterns, 5)
}

func TestPatternStore_LatestPattern(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewPatternStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedPatternRow(ctx, t, store, detector.PatternTimeExcess, detector.SeverityWarning, now.Add(-time.Hour))
	newest := seedPatternRow(ctx, t, store, detector.PatternTimeExcess, detector.SeverityCritical, now)

	latest, err := store.LatestPattern(ctx, detector.PatternTimeExcess, "payment-api")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newest, latest.ID)

	missing, err := store.LatestPattern(ctx, detector.PatternSpike, "payment-api")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPatternStore_UpsertSnapshot(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewPatternStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	snapshot := &detector.HealthSnapshot{
		IntegrationID:     "booking-com",
		Status:            detector.StatusWarning,
		PricingSyncStatus: detector.StatusWarning,
		FeesSyncStatus:    detector.StatusHealthy,
		BookingLossStatus: detector.StatusHealthy,
		ErrorRate:         0.05,
		LastUpdated:       now,
	}
	require.NoError(t, store.UpsertSnapshot(ctx, snapshot))

	// Second upsert replaces in place, one row per integration.
	snapshot.Status = detector.StatusCritical
	snapshot.ErrorRate = 0.2
	snapshot.LastUpdated = now.Add(time.Hour)
	require.NoError(t, store.UpsertSnapshot(ctx, snapshot))

	got, err := store.GetSnapshot(ctx, "booking-com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, detector.StatusCritical, got.Status)
	assert.InDelta(t, 0.2, got.ErrorRate, 1e-9)

	snapshots, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)

	missing, err := store.GetSnapshot(ctx, "vrbo")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPatternStore_CreatePattern_AssignsID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewPatternStore(conn, testLogger())
	require.NoError(t, err)

	id := seedPatternRow(ctx, t, store, detector.PatternSpike, detector.SeverityInfo,
		time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}
