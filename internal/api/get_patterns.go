package api

import (
	"net/http"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/detector"
)

// handleGetPatterns handles GET /api/v1/patterns.
// Returns a paginated list of detected patterns, newest first.
//
// Query Parameters:
//   - type: time_excess | consecutive_problem | spike
//   - severity: info | warning | critical
//   - since: ISO8601 timestamp (detected after this time)
//   - until: ISO8601 timestamp (detected before this time)
//   - limit: 1-100 (default: 20)
//   - offset: >= 0 (default: 0)
func (s *Server) handleGetPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter, err := buildPatternFilter(r, params)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	patterns, total, err := s.stores.Patterns.QueryPatterns(ctx, filter, params.limit, params.offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query patterns",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query patterns"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, PatternListResponse{
		Patterns: patterns,
		Total:    total,
		Limit:    params.limit,
		Offset:   params.offset,
	})
}

// buildPatternFilter creates a detector.PatternFilter from query parameters,
// validating enum values against the domain constants.
func buildPatternFilter(r *http.Request, params *listParams) (*detector.PatternFilter, error) {
	filter := &detector.PatternFilter{
		DetectedAfter:  params.since,
		DetectedBefore: params.until,
	}

	if raw := r.URL.Query().Get("type"); raw != "" {
		patternType := detector.PatternType(raw)

		switch patternType {
		case detector.PatternTimeExcess, detector.PatternConsecutiveProblem, detector.PatternSpike:
			filter.Type = &patternType
		default:
			return nil, &paramError{
				param: "type",
				msg:   "must be one of: time_excess, consecutive_problem, spike",
			}
		}
	}

	if raw := r.URL.Query().Get("severity"); raw != "" {
		severity := detector.Severity(raw)

		switch severity {
		case detector.SeverityInfo, detector.SeverityWarning, detector.SeverityCritical:
			filter.Severity = &severity
		default:
			return nil, &paramError{
				param: "severity",
				msg:   "must be one of: info, warning, critical",
			}
		}
	}

	return filter, nil
}
