package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
	serviceName        = "qawatch"
	serviceVersion     = "1.0.0"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string
		Handler http.HandlerFunc
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints (bypass auth and rate limiting)
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // liveness probe
		Route{"GET /ready", s.handleReady},   // readiness probe
		Route{"GET /health", s.handleHealth}, // status, uptime, version
		Route{"/", s.handleNotFound},         // catch-all 404
	)

	// Ingestion endpoints
	mux.HandleFunc("POST /api/v1/events/time-logs", s.handleIngestTimeLogs)
	mux.HandleFunc("POST /api/v1/events/test-results", s.handleIngestTestResults)
	mux.HandleFunc("POST /api/v1/events/integration-events", s.handleIngestIntegrationEvents)

	// Query facade
	mux.HandleFunc("GET /api/v1/integrations/health", s.handleListIntegrationHealth)
	mux.HandleFunc("GET /api/v1/integrations/{id}/health", s.handleGetIntegrationHealth)
	mux.HandleFunc("GET /api/v1/patterns", s.handleGetPatterns)
	mux.HandleFunc("GET /api/v1/correlations", s.handleGetCorrelations)
	mux.HandleFunc("GET /api/v1/revenue/summary", s.handleGetRevenueSummary)
	mux.HandleFunc("GET /api/v1/revenue/breakdown", s.handleGetRevenueBreakdown)
	mux.HandleFunc("GET /api/v1/alerts", s.handleGetAlerts)
	mux.HandleFunc("POST /api/v1/alerts/{id}/dismiss", s.handleDismissAlert)

	// Export
	mux.HandleFunc("GET /api/v1/export/patterns", s.handleExportPatterns)
	mux.HandleFunc("GET /api/v1/export/revenue", s.handleExportRevenue)
}

// registerPublicRoutes registers routes that bypass authentication and rate
// limiting. Only health probes belong here; never register business endpoints
// as public.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Go 1.22 method routing uses "GET /path" but r.URL.Path carries just
		// "/path"; strip the method before registering the bypass.
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to readiness probes by checking the event store's
// database connectivity. 503 tells the orchestrator to stop routing traffic
// here until the backend recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.stores.Events.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		_, _ = w.Write([]byte("storage unavailable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("ready"))
}

// handleHealth returns basic service health: status, uptime, version.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:      "ok",
		ServiceName: serviceName,
		Version:     serviceVersion,
	}

	if !s.startTime.IsZero() {
		status.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, status)
}

// handleNotFound is the catch-all for unmatched paths.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFoundProblem("The requested resource does not exist"))
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
}
