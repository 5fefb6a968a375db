// Package ingestion provides the event domain models and persistence interfaces
// for the QAWatch quality-observability engine.
//
// Three kinds of operational signal enter the system: workflow time-tracking
// logs, test-execution results, and third-party integration health events.
// All three are immutable once written; dedup happens at the storage layer via
// natural-key upserts, so producers may safely retry.
package ingestion

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for validation failures. Malformed events are rejected at
// ingestion and never stored.
var (
	ErrNilEvent                = errors.New("event cannot be nil")
	ErrMissingTicketID         = errors.New("ticket_id is required")
	ErrMissingCompletedAt      = errors.New("completed_at is required")
	ErrInvalidEstimatedSeconds = errors.New("estimated_seconds must be greater than zero")
	ErrInvalidActualSeconds    = errors.New("actual_seconds must not be negative")
	ErrMissingTestCaseID       = errors.New("test_case_id is required")
	ErrMissingExecutedAt       = errors.New("executed_at is required")
	ErrInvalidOutcome          = errors.New("invalid outcome")
	ErrMissingIntegrationID    = errors.New("integration_id is required")
	ErrMissingOccurredAt       = errors.New("occurred_at is required")
	ErrInvalidEventType        = errors.New("invalid event_type")
	ErrInvalidMagnitude        = errors.New("magnitude must not be negative")
	ErrInvalidSource           = errors.New("invalid source")
)

// Outcome is the result of a single test case execution.
type Outcome string

// Valid test outcomes.
const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// IsValid reports whether the outcome is a known value.
func (o Outcome) IsValid() bool {
	return o == OutcomePass || o == OutcomeFail
}

// EventType classifies an integration anomaly signal.
type EventType string

// Valid integration event types. The first three map 1:1 onto revenue
// categories; EventTypeError is a generic error signal that only feeds the
// health snapshot error rate.
const (
	EventTypePricingSyncError EventType = "pricing_sync_error"
	EventTypeFeeSyncError     EventType = "fee_sync_error"
	EventTypeBookingLoss      EventType = "booking_loss"
	EventTypeError            EventType = "error"
)

// IsValid reports whether the event type is a known value.
func (e EventType) IsValid() bool {
	switch e {
	case EventTypePricingSyncError, EventTypeFeeSyncError, EventTypeBookingLoss, EventTypeError:
		return true
	default:
		return false
	}
}

// Source identifies how an integration event was detected.
type Source string

// Valid event sources.
const (
	SourceManual Source = "manual"
	SourceAPI    Source = "api"
	SourceLog    Source = "log"
)

// IsValid reports whether the source is a known value.
func (s Source) IsValid() bool {
	return s == SourceManual || s == SourceAPI || s == SourceLog
}

type (
	// WorkflowTimeLog records one completed workflow step/ticket, written by the
	// external workflow tracker when a QA finishes a ticket.
	//
	// Natural key: (ticket_id, completed_at). Immutable once written.
	WorkflowTimeLog struct {
		TicketID         string    `json:"ticketId"`
		Component        string    `json:"component,omitempty"` // optional shared tag, e.g. endpoint/module
		EstimatedSeconds int64     `json:"estimatedSeconds"`
		ActualSeconds    int64     `json:"actualSeconds"`
		CompletedAt      time.Time `json:"completedAt"`
	}

	// TestResult records one executed test case, sourced from the external
	// test-management integration.
	//
	// Natural key: (test_case_id, executed_at). Immutable once written.
	TestResult struct {
		TestCaseID     string    `json:"testCaseId"`
		IntegrationTag string    `json:"integrationTag,omitempty"` // which marketplace/integration the test exercises
		Outcome        Outcome   `json:"outcome"`
		ExecutedAt     time.Time `json:"executedAt"`
	}

	// IntegrationEvent records one detected integration anomaly signal.
	//
	// Natural key: (integration_id, event_type, occurred_at). Immutable once written.
	IntegrationEvent struct {
		IntegrationID string    `json:"integrationId"`
		EventType     EventType `json:"eventType"`
		Magnitude     float64   `json:"magnitude"` // affected booking count or error count
		Source        Source    `json:"source"`
		OccurredAt    time.Time `json:"occurredAt"`
	}
)

// Validate checks that the time log carries all required fields.
func (l *WorkflowTimeLog) Validate() error {
	if l == nil {
		return ErrNilEvent
	}

	if l.TicketID == "" {
		return ErrMissingTicketID
	}

	if l.CompletedAt.IsZero() {
		return ErrMissingCompletedAt
	}

	if l.EstimatedSeconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidEstimatedSeconds, l.EstimatedSeconds)
	}

	if l.ActualSeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidActualSeconds, l.ActualSeconds)
	}

	return nil
}

// ExcessRatio returns actual/estimated time. Validate guarantees a positive
// denominator for stored rows.
func (l *WorkflowTimeLog) ExcessRatio() float64 {
	return float64(l.ActualSeconds) / float64(l.EstimatedSeconds)
}

// Validate checks that the test result carries all required fields.
func (r *TestResult) Validate() error {
	if r == nil {
		return ErrNilEvent
	}

	if r.TestCaseID == "" {
		return ErrMissingTestCaseID
	}

	if r.ExecutedAt.IsZero() {
		return ErrMissingExecutedAt
	}

	if !r.Outcome.IsValid() {
		return fmt.Errorf("%w: %q (valid: pass, fail)", ErrInvalidOutcome, r.Outcome)
	}

	return nil
}

// Validate checks that the integration event carries all required fields.
func (e *IntegrationEvent) Validate() error {
	if e == nil {
		return ErrNilEvent
	}

	if e.IntegrationID == "" {
		return ErrMissingIntegrationID
	}

	if e.OccurredAt.IsZero() {
		return ErrMissingOccurredAt
	}

	if !e.EventType.IsValid() {
		return fmt.Errorf(
			"%w: %q (valid: pricing_sync_error, fee_sync_error, booking_loss, error)",
			ErrInvalidEventType, e.EventType,
		)
	}

	if e.Magnitude < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidMagnitude, e.Magnitude)
	}

	if !e.Source.IsValid() {
		return fmt.Errorf("%w: %q (valid: manual, api, log)", ErrInvalidSource, e.Source)
	}

	return nil
}
