package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/revenue"
)

// Export formats.
const (
	formatCSV  = "csv"
	formatJSON = "json"
)

// handleExportPatterns handles GET /api/v1/export/patterns.
// Streams the full (unpaginated) pattern history matching the filter, for
// offline analysis in spreadsheets or BI tooling.
//
// Query Parameters:
//   - format: csv | json (default: csv)
//   - type, severity, since, until: same filters as GET /api/v1/patterns
func (s *Server) handleExportPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	format, problem := exportFormat(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

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

	// limit 0 disables pagination: exports always return the full result set
	patterns, total, err := s.stores.Patterns.QueryPatterns(ctx, filter, 0, 0)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query patterns for export",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query patterns"))

		return
	}

	if format == formatJSON {
		s.writeJSON(w, r, http.StatusOK, PatternListResponse{Patterns: patterns, Total: total})

		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="patterns.csv"`)

	writer := csv.NewWriter(w)

	header := []string{
		"id", "pattern_type", "severity", "confidence_score",
		"affected_entities", "common_factor", "avg_excess_percent", "detected_at",
	}
	records := make([][]string, 0, len(patterns)+1)
	records = append(records, header)

	for i := range patterns {
		avgExcess := ""
		if patterns[i].AvgExcessPercent != nil {
			avgExcess = strconv.FormatFloat(*patterns[i].AvgExcessPercent, 'f', -1, 64)
		}

		records = append(records, []string{
			patterns[i].ID,
			string(patterns[i].Type),
			string(patterns[i].Severity),
			strconv.FormatFloat(patterns[i].ConfidenceScore, 'f', -1, 64),
			strings.Join(patterns[i].AffectedEntities, ";"),
			patterns[i].CommonFactor,
			avgExcess,
			patterns[i].DetectedAt.UTC().Format(time.RFC3339),
		})
	}

	if err := writer.WriteAll(records); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write pattern export",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
	}
}

// handleExportRevenue handles GET /api/v1/export/revenue.
// Streams per-period impact rows matching the filter.
//
// Query Parameters:
//   - format: csv | json (default: csv)
//   - integrationId, category, since, until: same filters as
//     GET /api/v1/revenue/breakdown
func (s *Server) handleExportRevenue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	format, problem := exportFormat(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	filter := &revenue.Filter{
		IntegrationID: strings.TrimSpace(r.URL.Query().Get("integrationId")),
	}

	if raw := r.URL.Query().Get("category"); raw != "" {
		category := revenue.Category(raw)

		switch category {
		case revenue.CategoryPricing, revenue.CategoryFees, revenue.CategoryBookingLoss:
			filter.Category = &category
		default:
			WriteErrorResponse(w, r, s.logger, BadRequest(
				"Invalid parameter 'category': must be one of: pricing, fees, booking_loss",
			))

			return
		}
	}

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	filter.PeriodAfter = params.since
	filter.PeriodBefore = params.until

	impacts, err := s.stores.Impacts.QueryImpacts(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query revenue impacts for export",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query revenue impacts"))

		return
	}

	if format == formatJSON {
		s.writeJSON(w, r, http.StatusOK, RevenueBreakdownResponse{Impacts: impacts, Total: len(impacts)})

		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="revenue_impacts.csv"`)

	writer := csv.NewWriter(w)

	header := []string{
		"integration_id", "category", "period_start", "period_end",
		"revenue_at_risk", "revenue_protected", "computed_at",
	}
	records := make([][]string, 0, len(impacts)+1)
	records = append(records, header)

	for i := range impacts {
		records = append(records, []string{
			impacts[i].IntegrationID,
			string(impacts[i].Category),
			impacts[i].PeriodStart.UTC().Format(time.RFC3339),
			impacts[i].PeriodEnd.UTC().Format(time.RFC3339),
			strconv.FormatFloat(impacts[i].RevenueAtRisk, 'f', 2, 64),
			strconv.FormatFloat(impacts[i].RevenueProtected, 'f', 2, 64),
			impacts[i].ComputedAt.UTC().Format(time.RFC3339),
		})
	}

	if err := writer.WriteAll(records); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write revenue export",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
	}
}

// exportFormat resolves the requested export format, defaulting to CSV.
func exportFormat(r *http.Request) (string, *ProblemDetail) {
	format := r.URL.Query().Get("format")
	if format == "" {
		return formatCSV, nil
	}

	switch format {
	case formatCSV, formatJSON:
		return format, nil
	default:
		return "", BadRequest("Invalid parameter 'format': must be csv or json")
	}
}
