package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// Error-rate thresholds for sub-metric status, carried over from the original
// integration-health heuristics: healthy below 2%, critical at 5% and above.
const (
	warningErrorRate  = 0.02
	criticalErrorRate = 0.05
)

// refreshSnapshots recomputes the health snapshot for every integration seen
// in the scanned events plus every integration already holding a snapshot, so
// a quiet integration can recover to healthy.
//
// Failures are isolated per integration: one bad upsert is logged and the
// remaining integrations are still refreshed.
func (d *Detector) refreshSnapshots(ctx context.Context, events []ingestion.IntegrationEvent, now time.Time) error {
	since := now.Add(-d.config.SnapshotWindow)

	ids := make(map[string]struct{})
	for i := range events {
		ids[events[i].IntegrationID] = struct{}{}
	}

	existing, err := d.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("detector: list snapshots: %w", err)
	}

	for i := range existing {
		ids[existing[i].IntegrationID] = struct{}{}
	}

	if len(ids) == 0 {
		return nil
	}

	activePatterns, _, err := d.patterns.QueryPatterns(ctx, &PatternFilter{DetectedAfter: &since}, 0, 0)
	if err != nil {
		return fmt.Errorf("detector: query active patterns: %w", err)
	}

	results, err := d.events.QueryTestResults(ctx, since, now)
	if err != nil {
		return fmt.Errorf("detector: query test results: %w", err)
	}

	var failed int

	for id := range ids {
		snapshot := d.buildSnapshot(id, events, activePatterns, results, since, now)

		if err := d.snapshots.UpsertSnapshot(ctx, snapshot); err != nil {
			failed++

			d.logger.Error("Snapshot refresh failed",
				slog.String("integration_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if failed == len(ids) {
		return fmt.Errorf("detector: all %d snapshot refreshes failed", failed)
	}

	return nil
}

// buildSnapshot derives the current status for one integration from recent
// events, test results and active patterns.
func (d *Detector) buildSnapshot(
	integrationID string,
	events []ingestion.IntegrationEvent,
	patterns []Pattern,
	results []ingestion.TestResult,
	since, now time.Time,
) *HealthSnapshot {
	var pricing, fees, bookingLoss int

	for i := range events {
		ev := &events[i]
		if ev.IntegrationID != integrationID || ev.OccurredAt.Before(since) {
			continue
		}

		switch ev.EventType {
		case ingestion.EventTypePricingSyncError:
			pricing++
		case ingestion.EventTypeFeeSyncError:
			fees++
		case ingestion.EventTypeBookingLoss:
			bookingLoss++
		}
	}

	snapshot := &HealthSnapshot{
		IntegrationID:     integrationID,
		PricingSyncStatus: d.statusFromEventCount(pricing),
		FeesSyncStatus:    d.statusFromEventCount(fees),
		BookingLossStatus: d.statusFromEventCount(bookingLoss),
		ErrorRate:         testFailureRate(integrationID, results),
		LastUpdated:       now,
	}

	status := StatusHealthy
	status = status.Max(snapshot.PricingSyncStatus)
	status = status.Max(snapshot.FeesSyncStatus)
	status = status.Max(snapshot.BookingLossStatus)
	status = status.Max(statusFromErrorRate(snapshot.ErrorRate))

	for i := range patterns {
		if !patternAffects(&patterns[i], integrationID) {
			continue
		}

		switch patterns[i].Severity {
		case SeverityCritical:
			status = status.Max(StatusCritical)
		case SeverityWarning:
			status = status.Max(StatusWarning)
		}
	}

	snapshot.Status = status

	return snapshot
}

// patternAffects reports whether a pattern concerns the given integration:
// either the integration appears in the affected entity set (spikes) or the
// shared component tag names it (workflow patterns tagged by integration).
func patternAffects(p *Pattern, integrationID string) bool {
	if p.CommonFactor == integrationID {
		return true
	}

	for _, entity := range p.AffectedEntities {
		if entity == integrationID {
			return true
		}
	}

	return false
}

// statusFromEventCount grades a sub-metric by recent event count.
func (d *Detector) statusFromEventCount(count int) HealthStatus {
	switch {
	case count >= d.config.CriticalEventCount:
		return StatusCritical
	case count > 0:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// statusFromErrorRate grades an error rate using the 2%/5% boundaries.
func statusFromErrorRate(rate float64) HealthStatus {
	switch {
	case rate >= criticalErrorRate:
		return StatusCritical
	case rate >= warningErrorRate:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// testFailureRate returns the share of failed executions among test results
// tagged with the integration. No tagged executions yields zero.
func testFailureRate(integrationID string, results []ingestion.TestResult) float64 {
	var total, failed int

	for i := range results {
		if results[i].IntegrationTag != integrationID {
			continue
		}

		total++

		if results[i].Outcome == ingestion.OutcomeFail {
			failed++
		}
	}

	if total == 0 {
		return 0
	}

	return float64(failed) / float64(total)
}
