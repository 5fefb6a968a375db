package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/detector"
)

func newAlertRow(sourceType alerting.SourceType, sourceID string, createdAt time.Time) *alerting.Alert {
	return &alerting.Alert{
		ID:         uuid.NewString(),
		SourceType: sourceType,
		SourceID:   sourceID,
		Severity:   detector.SeverityCritical,
		Message:    "pattern detected: time_excess on payment-api",
		CreatedAt:  createdAt,
	}
}

func TestAlertStore_AtMostOneLiveAlertPerSource(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewAlertStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sourceID := uuid.NewString()

	created, err := store.CreateAlert(ctx, newAlertRow(alerting.SourcePattern, sourceID, now))
	require.NoError(t, err)
	assert.True(t, created)

	// Second insert for the same live source hits the partial unique index.
	created, err = store.CreateAlert(ctx, newAlertRow(alerting.SourcePattern, sourceID, now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)

	// Same source_id under a different source_type is a different source.
	created, err = store.CreateAlert(ctx, newAlertRow(alerting.SourceRevenue, sourceID, now))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAlertStore_ReAlertAfterDismissal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewAlertStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sourceID := uuid.NewString()

	first := newAlertRow(alerting.SourcePattern, sourceID, now)
	created, err := store.CreateAlert(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.DismissAlert(ctx, first.ID, now.Add(time.Hour)))

	// The source can alert again once the previous alert is dismissed.
	created, err = store.CreateAlert(ctx, newAlertRow(alerting.SourcePattern, sourceID, now.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.True(t, created)

	_, total, err := store.QueryAlerts(ctx, nil, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	live, total, err := store.QueryAlerts(ctx, &alerting.Filter{LiveOnly: true}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, live, 1)
	assert.Nil(t, live[0].DismissedAt)
}

func TestAlertStore_DismissAlert_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewAlertStore(conn, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	alert := newAlertRow(alerting.SourceCorrelation, uuid.NewString(), now)
	_, err = store.CreateAlert(ctx, alert)
	require.NoError(t, err)

	require.NoError(t, store.DismissAlert(ctx, alert.ID, now.Add(time.Hour)))
	require.NoError(t, store.DismissAlert(ctx, alert.ID, now.Add(2*time.Hour)))

	got, err := store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DismissedAt)

	// Re-dismissing keeps the original dismissal time.
	assert.True(t, got.DismissedAt.Equal(now.Add(time.Hour)))
}

func TestAlertStore_DismissAlert_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewAlertStore(conn, testLogger())
	require.NoError(t, err)

	err = store.DismissAlert(ctx, uuid.NewString(), time.Now())
	assert.ErrorIs(t, err, alerting.ErrAlertNotFound)

	_, err = store.GetAlert(ctx, uuid.NewString())
	assert.ErrorIs(t, err, alerting.ErrAlertNotFound)
}
