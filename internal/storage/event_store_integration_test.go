package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/qawatch-io/qawatch/internal/config"
	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// setupTestConnection starts a migrated PostgreSQL container and wraps it in a
// Connection. Shared by the storage integration tests.
func setupTestConnection(t *testing.T) *Connection {
	t.Helper()

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	return &Connection{db: testDB.Connection}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventStore_AppendTimeLog_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewEventStore(conn, testLogger())
	require.NoError(t, err)

	log := &ingestion.WorkflowTimeLog{
		TicketID:         "PM-1042",
		Component:        "payment-api",
		EstimatedSeconds: 3600,
		ActualSeconds:    7200,
		CompletedAt:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	stored, duplicate, err := store.AppendTimeLog(ctx, log)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.False(t, duplicate)

	// Retry with the same natural key hits ON CONFLICT DO NOTHING.
	stored, duplicate, err = store.AppendTimeLog(ctx, log)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.True(t, duplicate)

	logs, err := store.QueryTimeLogs(ctx,
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "PM-1042", logs[0].TicketID)
	assert.Equal(t, int64(7200), logs[0].ActualSeconds)
}

func TestEventStore_AppendTimeLog_RejectsInvalid(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewEventStore(conn, testLogger())
	require.NoError(t, err)

	log := &ingestion.WorkflowTimeLog{
		TicketID:         "PM-1",
		EstimatedSeconds: 0,
		ActualSeconds:    100,
		CompletedAt:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	stored, duplicate, err := store.AppendTimeLog(ctx, log)
	require.ErrorIs(t, err, ErrEventStoreFailed)
	assert.False(t, stored)
	assert.False(t, duplicate)
}

func TestEventStore_QueryTimeLogs_HalfOpenRange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewEventStore(conn, testLogger())
	require.NoError(t, err)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	for _, log := range []*ingestion.WorkflowTimeLog{
		{TicketID: "PM-1", EstimatedSeconds: 100, ActualSeconds: 100, CompletedAt: from.Add(-time.Second)},
		{TicketID: "PM-2", EstimatedSeconds: 100, ActualSeconds: 100, CompletedAt: from},
		{TicketID: "PM-3", EstimatedSeconds: 100, ActualSeconds: 100, CompletedAt: to.Add(-time.Second)},
		{TicketID: "PM-4", EstimatedSeconds: 100, ActualSeconds: 100, CompletedAt: to},
	} {
		_, _, err := store.AppendTimeLog(ctx, log)
		require.NoError(t, err)
	}

	logs, err := store.QueryTimeLogs(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "PM-2", logs[0].TicketID)
	assert.Equal(t, "PM-3", logs[1].TicketID)
}

func TestEventStore_AppendTestResults_PerEventIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewEventStore(conn, testLogger())
	require.NoError(t, err)

	executedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	batch := []*ingestion.TestResult{
		{TestCaseID: "tc-pricing", IntegrationTag: "booking-com", Outcome: ingestion.OutcomeFail, ExecutedAt: executedAt},
		{TestCaseID: "", Outcome: ingestion.OutcomePass, ExecutedAt: executedAt},
		{TestCaseID: "tc-fees", Outcome: ingestion.OutcomePass, ExecutedAt: executedAt},
	}

	results := store.AppendTestResults(ctx, batch)
	require.Len(t, results, 3)

	assert.True(t, results[0].Stored)
	assert.Error(t, results[1].Error)
	assert.True(t, results[2].Stored)

	stored, err := store.QueryTestResults(ctx, executedAt, executedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestEventStore_IntegrationEvents_NaturalKeyIncludesType(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewEventStore(conn, testLogger())
	require.NoError(t, err)

	occurredAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for _, eventType := range []ingestion.EventType{
		ingestion.EventTypePricingSyncError,
		ingestion.EventTypeFeeSyncError,
	} {
		stored, duplicate, err := store.AppendIntegrationEvent(ctx, &ingestion.IntegrationEvent{
			IntegrationID: "booking-com",
			EventType:     eventType,
			Magnitude:     2,
			Source:        ingestion.SourceAPI,
			OccurredAt:    occurredAt,
		})
		require.NoError(t, err)
		assert.True(t, stored)
		assert.False(t, duplicate)
	}

	events, err := store.QueryIntegrationEvents(ctx, "booking-com", occurredAt, occurredAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Filter by a different integration returns nothing.
	events, err = store.QueryIntegrationEvents(ctx, "vrbo", occurredAt, occurredAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStore_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(t)

	store, err := NewEventStore(conn, testLogger())
	require.NoError(t, err)

	assert.NoError(t, store.HealthCheck(ctx))
}
