package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qawatch-io/qawatch/internal/storage"
)

func TestIngestTimeLogs_AllStored(t *testing.T) {
	server, _ := newTestServer(t)

	body := `[
		{"ticketId": "PM-1", "estimatedSeconds": 3600, "actualSeconds": 7200, "completedAt": "2026-08-01T10:00:00Z"},
		{"ticketId": "PM-2", "estimatedSeconds": 1800, "actualSeconds": 1800, "completedAt": "2026-08-01T11:00:00Z"}
	]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", body)

	require.Equal(t, http.StatusOK, rec.Code)

	var response IngestResponse
	decodeJSON(t, rec, &response)

	assert.Equal(t, "success", response.Status)
	assert.Equal(t, 2, response.Summary.Received)
	assert.Equal(t, 2, response.Summary.Successful)
	assert.Equal(t, 2, response.Summary.Stored)
	assert.Equal(t, 0, response.Summary.Duplicates)
	assert.Equal(t, 0, response.Summary.Failed)
	assert.Empty(t, response.FailedEvents)
	assert.NotEmpty(t, response.CorrelationID)
}

func TestIngestTimeLogs_RetryIsIdempotent(t *testing.T) {
	server, _ := newTestServer(t)

	body := `[{"ticketId": "PM-1", "estimatedSeconds": 3600, "actualSeconds": 7200, "completedAt": "2026-08-01T10:00:00Z"}]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", body)
	require.Equal(t, http.StatusOK, rec.Code)

	// Producer retry: the duplicate still counts as success.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var response IngestResponse
	decodeJSON(t, rec, &response)

	assert.Equal(t, "success", response.Status)
	assert.Equal(t, 1, response.Summary.Successful)
	assert.Equal(t, 0, response.Summary.Stored)
	assert.Equal(t, 1, response.Summary.Duplicates)
}

func TestIngestTimeLogs_PartialSuccess(t *testing.T) {
	server, _ := newTestServer(t)

	body := `[
		{"ticketId": "PM-1", "estimatedSeconds": 3600, "actualSeconds": 7200, "completedAt": "2026-08-01T10:00:00Z"},
		{"ticketId": "PM-2", "estimatedSeconds": 0, "actualSeconds": 100, "completedAt": "2026-08-01T11:00:00Z"}
	]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", body)

	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var response IngestResponse
	decodeJSON(t, rec, &response)

	assert.Equal(t, "partial_success", response.Status)
	assert.Equal(t, 1, response.Summary.Stored)
	assert.Equal(t, 1, response.Summary.Failed)
	require.Len(t, response.FailedEvents, 1)
	assert.Equal(t, 1, response.FailedEvents[0].Index)
	assert.Contains(t, response.FailedEvents[0].Reason, "estimated_seconds")
}

func TestIngestTimeLogs_AllFailed(t *testing.T) {
	server, _ := newTestServer(t)

	body := `[{"ticketId": "", "estimatedSeconds": 3600, "actualSeconds": 100, "completedAt": "2026-08-01T10:00:00Z"}]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var response IngestResponse
	decodeJSON(t, rec, &response)

	assert.Equal(t, "error", response.Status)
	assert.Equal(t, 0, response.Summary.Successful)
	assert.Equal(t, 1, response.Summary.Failed)
}

func TestIngestTimeLogs_EmptyArray(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", `[]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestIngestTimeLogs_InvalidJSON(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestTimeLogs_EmptyBody(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/time-logs", nil)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestTimeLogs_WrongContentType(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/time-logs", strings.NewReader(`[]`))
	req.Header.Set("Content-Type", "text/plain")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestIngestTimeLogs_ContentTypeWithCharset(t *testing.T) {
	server, _ := newTestServer(t)

	body := `[{"ticketId": "PM-1", "estimatedSeconds": 3600, "actualSeconds": 7200, "completedAt": "2026-08-01T10:00:00Z"}]`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/time-logs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestTimeLogs_PayloadTooLarge(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := testServerConfig()
	cfg.MaxRequestSize = 64

	server := NewServer(cfg, &Stores{Events: store, Batch: store}, nil, nil)

	body := `[{"ticketId": "PM-1", "estimatedSeconds": 3600, "actualSeconds": 7200, "completedAt": "2026-08-01T10:00:00Z"}]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/time-logs", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIngestTestResults(t *testing.T) {
	server, store := newTestServer(t)

	body := `[
		{"testCaseId": "tc-1", "integrationTag": "booking-com", "outcome": "fail", "executedAt": "2026-08-01T10:00:00Z"},
		{"testCaseId": "tc-2", "outcome": "banana", "executedAt": "2026-08-01T10:05:00Z"}
	]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/test-results", body)

	require.Equal(t, http.StatusMultiStatus, rec.Code)

	var response IngestResponse
	decodeJSON(t, rec, &response)

	assert.Equal(t, 1, response.Summary.Stored)
	require.Len(t, response.FailedEvents, 1)
	assert.Contains(t, response.FailedEvents[0].Reason, "outcome")

	results, err := store.QueryTestResults(context.Background(),
		mustParseTime(t, "2026-08-01T00:00:00Z"), mustParseTime(t, "2026-08-02T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "booking-com", results[0].IntegrationTag)
}

func TestIngestIntegrationEvents(t *testing.T) {
	server, store := newTestServer(t)

	body := `[{
		"integrationId": "booking-com",
		"eventType": "pricing_sync_error",
		"magnitude": 3,
		"source": "api",
		"occurredAt": "2026-08-01T10:00:00Z"
	}]`

	rec := doRequest(t, server, http.MethodPost, "/api/v1/events/integration-events", body)

	require.Equal(t, http.StatusOK, rec.Code)

	events, err := store.QueryIntegrationEvents(context.Background(), "booking-com",
		mustParseTime(t, "2026-08-01T00:00:00Z"), mustParseTime(t, "2026-08-02T00:00:00Z"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 3.0, events[0].Magnitude, 1e-9)
}
