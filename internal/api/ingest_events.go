package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// handleIngestTimeLogs handles workflow time log ingestion.
// POST /api/v1/events/time-logs - single or batch
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: body exceeds MaxRequestSize
//   - 400 Bad Request: empty body, invalid JSON, or empty event array
//   - 422 Unprocessable Entity: every event in the batch failed
//
// Success responses:
//   - 200 OK: all events stored or duplicates (idempotency)
//   - 207 Multi-Status: partial success
func (s *Server) handleIngestTimeLogs(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var events []TimeLogEvent

	if problem := s.parseIngestRequest(r, &events); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Event array cannot be empty"))

		return
	}

	logs := make([]*ingestion.WorkflowTimeLog, len(events))
	for i := range events {
		logs[i] = mapTimeLogEvent(&events[i])
	}

	results := s.stores.Batch.AppendTimeLogs(r.Context(), logs)
	s.finishIngest(w, r, "time logs", results, startTime)
}

// handleIngestTestResults handles test result ingestion.
// POST /api/v1/events/test-results - single or batch
//
// Same validation and status code contract as handleIngestTimeLogs.
func (s *Server) handleIngestTestResults(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var events []TestResultEvent

	if problem := s.parseIngestRequest(r, &events); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Event array cannot be empty"))

		return
	}

	results := make([]*ingestion.TestResult, len(events))
	for i := range events {
		results[i] = mapTestResultEvent(&events[i])
	}

	appendResults := s.stores.Batch.AppendTestResults(r.Context(), results)
	s.finishIngest(w, r, "test results", appendResults, startTime)
}

// handleIngestIntegrationEvents handles integration anomaly event ingestion.
// POST /api/v1/events/integration-events - single or batch
//
// Same validation and status code contract as handleIngestTimeLogs.
func (s *Server) handleIngestIntegrationEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var events []IntegrationEventRequest

	if problem := s.parseIngestRequest(r, &events); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if len(events) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Event array cannot be empty"))

		return
	}

	integrationEvents := make([]*ingestion.IntegrationEvent, len(events))
	for i := range events {
		integrationEvents[i] = mapIntegrationEvent(&events[i])
	}

	results := s.stores.Batch.AppendIntegrationEvents(r.Context(), integrationEvents)
	s.finishIngest(w, r, "integration events", results, startTime)
}

// parseIngestRequest validates the request envelope and decodes the JSON body
// into dst (a pointer to a slice of API event types).
//
// Validates:
//   - Content-Type (must be application/json)
//   - Request size (fail fast when Content-Length already exceeds the limit)
//   - Empty body check (better UX than a JSON decode error)
//   - JSON parsing (body reads are capped at MaxRequestSize regardless of
//     the declared Content-Length)
func (s *Server) parseIngestRequest(r *http.Request, dst any) *ProblemDetail {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType("Content-Type must be application/json")
	}

	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return BadRequest("Request body cannot be empty")
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(dst); err != nil {
		return BadRequest("Invalid JSON: " + err.Error())
	}

	return nil
}

// finishIngest builds the batch response from per-event append results, writes
// it with the appropriate status code, and logs the outcome.
func (s *Server) finishIngest(
	w http.ResponseWriter,
	r *http.Request,
	kind string,
	results []ingestion.AppendResult,
	startTime time.Time,
) {
	correlationID := middleware.GetCorrelationID(r.Context())
	response := buildIngestResponse(correlationID, results)

	for i := range results {
		if results[i].Error == nil {
			continue
		}

		s.logger.Warn("Event rejected",
			slog.String("correlation_id", correlationID),
			slog.String("kind", kind),
			slog.Int("event_index", results[i].Index),
			slog.String("reason", results[i].Error.Error()),
		)
	}

	statusCode := determineIngestStatusCode(response)

	s.writeJSON(w, r, statusCode, response)

	s.logger.Info("Events processed",
		slog.String("correlation_id", correlationID),
		slog.String("kind", kind),
		slog.String("status", response.Status),
		slog.Int("received", response.Summary.Received),
		slog.Int("stored", response.Summary.Stored),
		slog.Int("duplicates", response.Summary.Duplicates),
		slog.Int("failed", response.Summary.Failed),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// buildIngestResponse folds per-event append results into the batch response.
// Duplicates are idempotent success, not failures.
func buildIngestResponse(correlationID string, results []ingestion.AppendResult) *IngestResponse {
	failedEvents := make([]FailedEvent, 0)
	stored, duplicates, failed := 0, 0, 0

	for i := range results {
		switch {
		case results[i].Error != nil:
			failedEvents = append(failedEvents, FailedEvent{
				Index:  results[i].Index,
				Reason: results[i].Error.Error(),
			})
			failed++
		case results[i].Duplicate:
			duplicates++
		default:
			stored++
		}
	}

	status := "success"
	if failed > 0 && stored+duplicates == 0 {
		status = "error"
	}

	return &IngestResponse{
		Status: status,
		Summary: ResponseSummary{
			Received:   len(results),
			Successful: stored + duplicates,
			Stored:     stored,
			Duplicates: duplicates,
			Failed:     failed,
		},
		FailedEvents:  failedEvents,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// determineIngestStatusCode maps the batch outcome onto an HTTP status code.
//
//   - 200 OK: all events succeeded (stored or duplicate)
//   - 207 Multi-Status: partial success
//   - 422 Unprocessable Entity: every event failed
func determineIngestStatusCode(response *IngestResponse) int {
	if response.Summary.Failed == 0 {
		return http.StatusOK
	}

	if response.Summary.Successful > 0 {
		response.Status = "partial_success"

		return http.StatusMultiStatus
	}

	return http.StatusUnprocessableEntity
}

// hasJSONContentType accepts application/json with optional parameters
// (charset etc).
func hasJSONContentType(contentType string) bool {
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])

	return strings.EqualFold(mediaType, "application/json")
}

// mapTimeLogEvent maps an API payload event to the domain model. Validation is
// delegated to the domain layer; the mapping only trims whitespace.
func mapTimeLogEvent(event *TimeLogEvent) *ingestion.WorkflowTimeLog {
	return &ingestion.WorkflowTimeLog{
		TicketID:         strings.TrimSpace(event.TicketID),
		Component:        strings.TrimSpace(event.Component),
		EstimatedSeconds: event.EstimatedSeconds,
		ActualSeconds:    event.ActualSeconds,
		CompletedAt:      event.CompletedAt,
	}
}

// mapTestResultEvent maps an API payload event to the domain model.
func mapTestResultEvent(event *TestResultEvent) *ingestion.TestResult {
	return &ingestion.TestResult{
		TestCaseID:     strings.TrimSpace(event.TestCaseID),
		IntegrationTag: strings.TrimSpace(event.IntegrationTag),
		Outcome:        ingestion.Outcome(strings.TrimSpace(event.Outcome)),
		ExecutedAt:     event.ExecutedAt,
	}
}

// mapIntegrationEvent maps an API payload event to the domain model.
func mapIntegrationEvent(event *IntegrationEventRequest) *ingestion.IntegrationEvent {
	return &ingestion.IntegrationEvent{
		IntegrationID: strings.TrimSpace(event.IntegrationID),
		EventType:     ingestion.EventType(strings.TrimSpace(event.EventType)),
		Magnitude:     event.Magnitude,
		Source:        ingestion.Source(strings.TrimSpace(event.Source)),
		OccurredAt:    event.OccurredAt,
	}
}
