package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/qawatch-io/qawatch/internal/config"
	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/detector"
	"github.com/qawatch-io/qawatch/internal/revenue"
)

// Dispatcher defaults.
const (
	defaultRevenueThreshold      = 1000.0
	defaultCorrelationScore      = 0.8
	defaultCorrelationConfidence = 0.5
	defaultScanWindow            = 24 * time.Hour
)

// DispatcherConfig holds the alert trigger thresholds.
type DispatcherConfig struct {
	// RevenueThreshold is the revenue-at-risk amount (per integration,
	// category and period) above which an alert fires.
	RevenueThreshold float64
	// CorrelationScore and CorrelationConfidence gate correlation alerts.
	CorrelationScore      float64
	CorrelationConfidence float64
	// ScanWindow is how far back each run looks for fresh sources.
	ScanWindow time.Duration
}

// LoadDispatcherConfig loads dispatcher settings from environment variables
// with fallback to defaults.
func LoadDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		RevenueThreshold:      config.GetEnvFloat("QAWATCH_ALERT_REVENUE_THRESHOLD", defaultRevenueThreshold),
		CorrelationScore:      config.GetEnvFloat("QAWATCH_ALERT_CORRELATION_SCORE", defaultCorrelationScore),
		CorrelationConfidence: config.GetEnvFloat("QAWATCH_ALERT_CORRELATION_CONFIDENCE", defaultCorrelationConfidence),
		ScanWindow:            config.GetEnvDuration("QAWATCH_ALERT_SCAN_WINDOW", defaultScanWindow),
	}
}

// Dispatcher scans recent patterns, correlations and revenue impact for
// alert-worthy conditions. The store's live-alert uniqueness makes the scan
// idempotent: re-seeing a condition that already has a live alert is a no-op.
type Dispatcher struct {
	patterns     detector.PatternStore
	correlations correlation.Store
	impacts      revenue.Store
	store        Store
	config       *DispatcherConfig
	logger       *slog.Logger

	now func() time.Time
}

// NewDispatcher creates an alert dispatcher. A nil config loads settings from
// the environment.
func NewDispatcher(
	patterns detector.PatternStore,
	correlations correlation.Store,
	impacts revenue.Store,
	store Store,
	cfg *DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg == nil {
		cfg = LoadDispatcherConfig()
	}

	return &Dispatcher{
		patterns:     patterns,
		correlations: correlations,
		impacts:      impacts,
		store:        store,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Name implements scheduler.Task.
func (d *Dispatcher) Name() string { return "alert-dispatcher" }

// Run executes one dispatch pass over all three sources.
func (d *Dispatcher) Run(ctx context.Context) error {
	startTime := d.now().UTC()
	since := startTime.Add(-d.config.ScanWindow)

	var created int

	n, err := d.dispatchPatterns(ctx, since, startTime)
	if err != nil {
		return err
	}

	created += n

	n, err = d.dispatchCorrelations(ctx, startTime)
	if err != nil {
		return err
	}

	created += n

	n, err = d.dispatchRevenue(ctx, since, startTime)
	if err != nil {
		return err
	}

	created += n

	d.logger.Info("Alert pass complete",
		slog.Int("alerts_created", created),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return nil
}

// dispatchPatterns raises an alert for every recent critical pattern.
func (d *Dispatcher) dispatchPatterns(ctx context.Context, since, now time.Time) (int, error) {
	critical := detector.SeverityCritical
	filter := &detector.PatternFilter{
		Severity:      &critical,
		DetectedAfter: &since,
	}

	patterns, _, err := d.patterns.QueryPatterns(ctx, filter, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("alerting: query patterns: %w", err)
	}

	var created int

	for i := range patterns {
		pattern := &patterns[i]

		ok, err := d.create(ctx, &Alert{
			SourceType: SourcePattern,
			SourceID:   pattern.ID,
			Severity:   detector.SeverityCritical,
			Message:    fmt.Sprintf("Critical %s pattern: %s", pattern.Type, pattern.Description),
			CreatedAt:  now,
		})
		if err != nil {
			return created, err
		}

		if ok {
			created++
		}
	}

	return created, nil
}

// dispatchCorrelations raises an alert for every pair above both cutoffs.
func (d *Dispatcher) dispatchCorrelations(ctx context.Context, now time.Time) (int, error) {
	rows, err := d.correlations.QueryCorrelations(ctx, &correlation.Filter{MinScore: &d.config.CorrelationScore})
	if err != nil {
		return 0, fmt.Errorf("alerting: query correlations: %w", err)
	}

	var created int

	for i := range rows {
		row := &rows[i]
		if row.Confidence < d.config.CorrelationConfidence {
			continue
		}

		ok, err := d.create(ctx, &Alert{
			SourceType: SourceCorrelation,
			SourceID:   row.TestCaseID + ":" + row.IntegrationID,
			Severity:   detector.SeverityWarning,
			Message: fmt.Sprintf("Test %s strongly correlates with integration %s (score %.2f, confidence %.2f)",
				row.TestCaseID, row.IntegrationID, row.Score, row.Confidence),
			CreatedAt: now,
		})
		if err != nil {
			return created, err
		}

		if ok {
			created++
		}
	}

	return created, nil
}

// dispatchRevenue raises an alert for every impact row above the configured
// at-risk threshold.
func (d *Dispatcher) dispatchRevenue(ctx context.Context, since, now time.Time) (int, error) {
	impacts, err := d.impacts.QueryImpacts(ctx, &revenue.Filter{PeriodAfter: &since})
	if err != nil {
		return 0, fmt.Errorf("alerting: query revenue impacts: %w", err)
	}

	var created int

	for i := range impacts {
		impact := &impacts[i]
		if impact.RevenueAtRisk <= d.config.RevenueThreshold {
			continue
		}

		sourceID := fmt.Sprintf("%s:%s:%s",
			impact.IntegrationID, impact.Category, impact.PeriodStart.UTC().Format(time.RFC3339))

		ok, err := d.create(ctx, &Alert{
			SourceType: SourceRevenue,
			SourceID:   sourceID,
			Severity:   detector.SeverityCritical,
			Message: fmt.Sprintf("Revenue at risk for %s (%s): $%.2f exceeds $%.2f threshold",
				impact.IntegrationID, impact.Category, impact.RevenueAtRisk, d.config.RevenueThreshold),
			CreatedAt: now,
		})
		if err != nil {
			return created, err
		}

		if ok {
			created++
		}
	}

	return created, nil
}

// create assigns an id and inserts, honoring live-alert uniqueness.
func (d *Dispatcher) create(ctx context.Context, alert *Alert) (bool, error) {
	alert.ID = uuid.NewString()

	created, err := d.store.CreateAlert(ctx, alert)
	if err != nil {
		return false, fmt.Errorf("alerting: create alert for %s/%s: %w", alert.SourceType, alert.SourceID, err)
	}

	if created {
		d.logger.Info("Alert created",
			slog.String("alert_id", alert.ID),
			slog.String("source_type", string(alert.SourceType)),
			slog.String("source_id", alert.SourceID),
			slog.String("severity", string(alert.Severity)),
		)
	}

	return created, nil
}
