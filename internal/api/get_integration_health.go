package api

import (
	"net/http"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
)

// handleListIntegrationHealth handles GET /api/v1/integrations/health.
// Returns the current health snapshot of every scored integration, ordered by
// integration ID.
func (s *Server) handleListIntegrationHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	snapshots, err := s.stores.Snapshots.ListSnapshots(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list health snapshots",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query integration health"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, IntegrationHealthResponse{
		Integrations: snapshots,
		Total:        len(snapshots),
	})
}

// handleGetIntegrationHealth handles GET /api/v1/integrations/{id}/health.
// Returns the current health snapshot for one integration, or 404 when the
// integration has never been scored.
func (s *Server) handleGetIntegrationHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	integrationID := r.PathValue("id")
	if integrationID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Integration ID is required"))

		return
	}

	snapshot, err := s.stores.Snapshots.GetSnapshot(ctx, integrationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to get health snapshot",
			"correlation_id", correlationID,
			"integration_id", integrationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query integration health"))

		return
	}

	if snapshot == nil {
		WriteErrorResponse(w, r, s.logger, NotFoundProblem("No health snapshot for integration "+integrationID))

		return
	}

	s.writeJSON(w, r, http.StatusOK, snapshot)
}
