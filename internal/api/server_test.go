package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qawatch-io/qawatch/internal/storage"
)

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "localhost",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        slog.LevelError,
		MaxRequestSize:  defaultMaxRequestSize,
	}
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	stores := &Stores{
		Events:       store,
		Batch:        store,
		Patterns:     store,
		Snapshots:    store,
		Correlations: store,
		Impacts:      store,
		Alerts:       store,
	}

	return NewServer(testServerConfig(), stores, nil, nil), store
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return parsed
}

func TestServer_Ping(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/ping", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestServer_Ready(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/ready", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestServer_Health(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	decodeJSON(t, rec, &status)

	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "qawatch", status.ServiceName)
	assert.NotEmpty(t, status.Version)
}

func TestServer_UnknownRouteReturnsProblemJSON(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/unknown", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	decodeJSON(t, rec, &problem)

	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.Equal(t, "https://qawatch.io/problems/404", problem.Type)
	assert.Equal(t, "/api/v1/unknown", problem.Instance)
	assert.NotEmpty(t, problem.CorrelationID)
}

func TestServer_ResponsesCarryCorrelationID(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/ping", "")

	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := testServerConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{name: "port too low", mutate: func(c *ServerConfig) { c.Port = 0 }, wantErr: ErrInvalidPort},
		{name: "port too high", mutate: func(c *ServerConfig) { c.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "empty host", mutate: func(c *ServerConfig) { c.Host = "" }, wantErr: ErrEmptyHost},
		{name: "zero read timeout", mutate: func(c *ServerConfig) { c.ReadTimeout = 0 }, wantErr: ErrInvalidReadTimeout},
		{name: "zero write timeout", mutate: func(c *ServerConfig) { c.WriteTimeout = 0 }, wantErr: ErrInvalidWriteTimeout},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *ServerConfig) { c.ShutdownTimeout = 0 },
			wantErr: ErrInvalidShutdownTimeout,
		},
		{
			name:    "zero max request size",
			mutate:  func(c *ServerConfig) { c.MaxRequestSize = 0 },
			wantErr: ErrInvalidMaxRequestSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := testServerConfig()
			tt.mutate(bad)
			assert.ErrorIs(t, bad.Validate(), tt.wantErr)
		})
	}
}
