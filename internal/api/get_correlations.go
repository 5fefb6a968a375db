package api

import (
	"net/http"
	"strings"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/correlation"
)

// handleGetCorrelations handles GET /api/v1/correlations.
// Returns scored test-integration relationships ordered by score descending.
//
// Query Parameters:
//   - testCaseId: restrict to one test case
//   - integrationId: restrict to one integration
//   - minScore: 0-1, only rows with score >= minScore
func (s *Server) handleGetCorrelations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	minScore, err := parseFloatParam(r, "minScore")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter := &correlation.Filter{
		TestCaseID:    strings.TrimSpace(r.URL.Query().Get("testCaseId")),
		IntegrationID: strings.TrimSpace(r.URL.Query().Get("integrationId")),
		MinScore:      minScore,
	}

	correlations, err := s.stores.Correlations.QueryCorrelations(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query correlations",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query correlations"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, CorrelationListResponse{
		Correlations: correlations,
		Total:        len(correlations),
	})
}
