package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/qawatch-io/qawatch/internal/api/middleware"
	"github.com/qawatch-io/qawatch/internal/revenue"
)

// defaultRevenueRange is the lookback applied when the caller gives no range.
const defaultRevenueRange = 30 * 24 * time.Hour

// handleGetRevenueSummary handles GET /api/v1/revenue/summary.
// Aggregates revenue at risk and revenue protected per integration over the
// queried range (default: trailing 30 days).
//
// Query Parameters:
//   - since: ISO8601 timestamp (periods starting at or after this time)
//   - until: ISO8601 timestamp (periods starting before this time)
func (s *Server) handleGetRevenueSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	from, to := revenueRange(params)

	impacts, err := s.stores.Impacts.QueryImpacts(ctx, &revenue.Filter{
		PeriodAfter:  &from,
		PeriodBefore: &to,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query revenue impacts",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query revenue impacts"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, buildRevenueSummary(impacts, from, to))
}

// handleGetRevenueBreakdown handles GET /api/v1/revenue/breakdown.
// Returns per-period impact rows ascending by period start, for trend charts.
//
// Query Parameters:
//   - integrationId: restrict to one integration
//   - category: pricing | fees | booking_loss
//   - since / until: ISO8601 period-start bounds (default: trailing 30 days)
func (s *Server) handleGetRevenueBreakdown(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	params, err := parseListParams(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	from, to := revenueRange(params)
	filter := &revenue.Filter{
		IntegrationID: strings.TrimSpace(r.URL.Query().Get("integrationId")),
		PeriodAfter:   &from,
		PeriodBefore:  &to,
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

	impacts, err := s.stores.Impacts.QueryImpacts(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to query revenue impacts",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query revenue impacts"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, RevenueBreakdownResponse{
		Impacts: impacts,
		Total:   len(impacts),
	})
}

// revenueRange resolves the queried period range, defaulting to the trailing
// 30 days ending now.
func revenueRange(params *listParams) (time.Time, time.Time) {
	to := time.Now().UTC()
	if params.until != nil {
		to = params.until.UTC()
	}

	from := to.Add(-defaultRevenueRange)
	if params.since != nil {
		from = params.since.UTC()
	}

	return from, to
}

// buildRevenueSummary folds per-period impact rows into per-integration
// aggregates, sorted by revenue at risk descending so the worst integration
// leads the report.
func buildRevenueSummary(impacts []revenue.Impact, from, to time.Time) *RevenueSummaryResponse {
	byIntegration := make(map[string]*IntegrationRevenueSummary)

	totalAtRisk, totalProtected := 0.0, 0.0

	for i := range impacts {
		summary, ok := byIntegration[impacts[i].IntegrationID]
		if !ok {
			summary = &IntegrationRevenueSummary{IntegrationID: impacts[i].IntegrationID}
			byIntegration[impacts[i].IntegrationID] = summary
		}

		summary.RevenueAtRisk += impacts[i].RevenueAtRisk
		summary.RevenueProtected += impacts[i].RevenueProtected
		totalAtRisk += impacts[i].RevenueAtRisk
		totalProtected += impacts[i].RevenueProtected
	}

	integrations := make([]IntegrationRevenueSummary, 0, len(byIntegration))
	for _, summary := range byIntegration {
		integrations = append(integrations, *summary)
	}

	sort.Slice(integrations, func(i, j int) bool {
		if integrations[i].RevenueAtRisk != integrations[j].RevenueAtRisk {
			return integrations[i].RevenueAtRisk > integrations[j].RevenueAtRisk
		}

		return integrations[i].IntegrationID < integrations[j].IntegrationID
	})

	return &RevenueSummaryResponse{
		Integrations:          integrations,
		TotalRevenueAtRisk:    totalAtRisk,
		TotalRevenueProtected: totalProtected,
		From:                  from,
		To:                    to,
	}
}
