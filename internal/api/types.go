// Package api provides the HTTP API server for the QAWatch service.
package api

import (
	"time"

	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/detector"
	"github.com/qawatch-io/qawatch/internal/revenue"
)

type (
	// TimeLogEvent models one workflow time log in an ingestion payload. This
	// is separate from the domain model (ingestion.WorkflowTimeLog) so the API
	// contract can evolve without leaking into domain types.
	TimeLogEvent struct {
		TicketID         string    `json:"ticketId"`
		Component        string    `json:"component,omitempty"`
		EstimatedSeconds int64     `json:"estimatedSeconds"`
		ActualSeconds    int64     `json:"actualSeconds"`
		CompletedAt      time.Time `json:"completedAt"`
	}

	// TestResultEvent models one test execution in an ingestion payload.
	TestResultEvent struct {
		TestCaseID     string    `json:"testCaseId"`
		IntegrationTag string    `json:"integrationTag,omitempty"`
		Outcome        string    `json:"outcome"`
		ExecutedAt     time.Time `json:"executedAt"`
	}

	// IntegrationEventRequest models one integration anomaly signal in an
	// ingestion payload.
	IntegrationEventRequest struct {
		IntegrationID string    `json:"integrationId"`
		EventType     string    `json:"eventType"`
		Magnitude     float64   `json:"magnitude"`
		Source        string    `json:"source"`
		OccurredAt    time.Time `json:"occurredAt"`
	}
)

type (
	// IngestResponse is the batch ingestion response shared by all three event
	// endpoints. Only failed events are itemized; duplicates count as success
	// (idempotent retry).
	IngestResponse struct {
		Status        string          `json:"status"` // "success", "partial_success" or "error"
		Summary       ResponseSummary `json:"summary"`
		FailedEvents  []FailedEvent   `json:"failedEvents"`
		CorrelationID string          `json:"correlationId"`
		Timestamp     string          `json:"timestamp"`
	}

	// ResponseSummary provides aggregate counts for batch processing.
	ResponseSummary struct {
		Received   int `json:"received"`
		Successful int `json:"successful"` // stored + duplicates
		Stored     int `json:"stored"`
		Duplicates int `json:"duplicates"`
		Failed     int `json:"failed"`
	}

	// FailedEvent describes a single rejected event in the batch.
	FailedEvent struct {
		Index  int    `json:"index"` // position in the original batch (0-based)
		Reason string `json:"reason"`
	}
)

type (
	// PatternListResponse is the paginated response for GET /api/v1/patterns.
	PatternListResponse struct {
		Patterns []detector.Pattern `json:"patterns"`
		Total    int                `json:"total"`
		Limit    int                `json:"limit"`
		Offset   int                `json:"offset"`
	}

	// IntegrationHealthResponse lists current health snapshots for all
	// integrations.
	IntegrationHealthResponse struct {
		Integrations []detector.HealthSnapshot `json:"integrations"`
		Total        int                       `json:"total"`
	}

	// CorrelationListResponse is the response for GET /api/v1/correlations,
	// ordered by score descending.
	CorrelationListResponse struct {
		Correlations []correlation.Correlation `json:"correlations"`
		Total        int                       `json:"total"`
	}

	// RevenueSummaryResponse aggregates revenue impact per integration over the
	// queried range.
	RevenueSummaryResponse struct {
		Integrations          []IntegrationRevenueSummary `json:"integrations"`
		TotalRevenueAtRisk    float64                     `json:"totalRevenueAtRisk"`
		TotalRevenueProtected float64                     `json:"totalRevenueProtected"`
		From                  time.Time                   `json:"from"`
		To                    time.Time                   `json:"to"`
	}

	// IntegrationRevenueSummary is one integration's aggregate in a revenue
	// summary.
	IntegrationRevenueSummary struct {
		IntegrationID    string  `json:"integrationId"`
		RevenueAtRisk    float64 `json:"revenueAtRisk"`
		RevenueProtected float64 `json:"revenueProtected"`
	}

	// RevenueBreakdownResponse is the per-period impact detail for
	// GET /api/v1/revenue/breakdown, ascending by period.
	RevenueBreakdownResponse struct {
		Impacts []revenue.Impact `json:"impacts"`
		Total   int              `json:"total"`
	}

	// AlertListResponse is the paginated response for GET /api/v1/alerts.
	AlertListResponse struct {
		Alerts []alerting.Alert `json:"alerts"`
		Total  int              `json:"total"`
		Limit  int              `json:"limit"`
		Offset int              `json:"offset"`
	}

	// DismissAlertResponse confirms an alert dismissal.
	DismissAlertResponse struct {
		Alert *alerting.Alert `json:"alert"`
	}
)
