package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/detector"
)

// handleGetAlerts handles GET /api/v1/alerts.
// Returns a paginated list of alerts, newest first.
//
// Query Parameters:
//   - sourceType: pattern | correlation | revenue
//   - severity: info | warning | critical
//   - live: "true" restricts to alerts not yet dismissed
//   - limit: 1-100 (default: 20)
//   - offset: >= 0 (default: 0)
func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter, problem := buildAlertFilter(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	alerts, total, err := s.stores.Alerts.QueryAlerts(ctx, filter, params.limit, params.offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query alerts",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query alerts"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, AlertListResponse{
		Alerts: alerts,
		Total:  total,
		Limit:  params.limit,
		Offset: params.offset,
	})
}

// handleDismissAlert handles POST /api/v1/alerts/{id}/dismiss.
// Dismissal is idempotent: re-dismissing keeps the original dismissal time.
// Returns the alert in its post-dismissal state, or 404 for an unknown ID.
func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	alertID := r.PathValue("id")
	if alertID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Alert ID is required"))

		return
	}

	if err := s.stores.Alerts.DismissAlert(ctx, alertID, time.Now().UTC()); err != nil {
		if errors.Is(err, alerting.ErrAlertNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFoundProblem("No alert with ID "+alertID))

			return
		}

		s.logger.ErrorContext(ctx, "Failed to dismiss alert",
			"correlation_id", correlationID,
			"alert_id", alertID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to dismiss alert"))

		return
	}

	alert, err := s.stores.Alerts.GetAlert(ctx, alertID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load dismissed alert",
			"correlation_id", correlationID,
			"alert_id", alertID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load alert"))

		return
	}

	s.logger.Info("Alert dismissed",
		"correlation_id", correlationID,
		"alert_id", alertID,
	)

	s.writeJSON(w, r, http.StatusOK, DismissAlertResponse{Alert: alert})
}

// buildAlertFilter creates an alerting.Filter from query parameters,
// validating enum values against the domain constants.
func buildAlertFilter(r *http.Request) (*alerting.Filter, *ProblemDetail) {
	filter := &alerting.Filter{}

	if raw := r.URL.Query().Get("sourceType"); raw != "" {
		sourceType := alerting.SourceType(raw)
		if !sourceType.IsValid() {
			return nil, BadRequest(
				"Invalid parameter 'sourceType': must be one of: pattern, correlation, revenue",
			)
		}

		filter.SourceType = sourceType
	}

	if raw := r.URL.Query().Get("severity"); raw != "" {
		severity := detector.Severity(raw)

		switch severity {
		case detector.SeverityInfo, detector.SeverityWarning, detector.SeverityCritical:
			filter.Severity = severity
		default:
			return nil, BadRequest(
				"Invalid parameter 'severity': must be one of: info, warning, critical",
			)
		}
	}

	filter.LiveOnly = r.URL.Query().Get("live") == "true"

	return filter, nil
}
