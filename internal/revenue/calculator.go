package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// Calculator derives revenue impact rows from integration events, correlation
// rows and per-integration configuration.
type Calculator struct {
	events       ingestion.Store
	correlations correlation.Store
	store        Store
	configs      ConfigStore
	overrides    *FileConfig
	config       *CalculatorConfig
	logger       *slog.Logger

	now func() time.Time
}

// NewCalculator creates a revenue impact calculator. A nil config loads
// settings from the environment; a nil overrides file is treated as empty.
func NewCalculator(
	events ingestion.Store,
	correlations correlation.Store,
	store Store,
	configs ConfigStore,
	overrides *FileConfig,
	cfg *CalculatorConfig,
	logger *slog.Logger,
) *Calculator {
	if cfg == nil {
		cfg = LoadCalculatorConfig()
	}

	if overrides == nil {
		overrides = &FileConfig{}
	}

	return &Calculator{
		events:       events,
		correlations: correlations,
		store:        store,
		configs:      configs,
		overrides:    overrides,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Name implements scheduler.Task.
func (c *Calculator) Name() string { return "revenue-calculator" }

// Run recomputes the trailing lookback periods for every integration seen in
// the scanned events. Failures are isolated per integration: a bad
// configuration degrades that integration only, the rest of the run proceeds.
func (c *Calculator) Run(ctx context.Context) error {
	startTime := c.now().UTC()
	periodEnd := startTime.Truncate(c.config.PeriodLength).Add(c.config.PeriodLength)
	from := periodEnd.Add(-time.Duration(c.config.LookbackPeriods) * c.config.PeriodLength)

	events, err := c.events.QueryIntegrationEvents(ctx, "", from, periodEnd)
	if err != nil {
		return fmt.Errorf("revenue: query integration events: %w", err)
	}

	results, err := c.events.QueryTestResults(ctx, from, periodEnd)
	if err != nil {
		return fmt.Errorf("revenue: query test results: %w", err)
	}

	strong, err := c.strongPairs(ctx)
	if err != nil {
		return err
	}

	configs, err := c.loadConfigs(ctx)
	if err != nil {
		return err
	}

	ids := integrationIDs(events, configs)

	var upserted, degraded int

	for _, id := range ids {
		cfg, err := c.configFor(id, configs)
		if err != nil {
			// Degraded computation: skip this integration, keep the run alive.
			degraded++

			c.logger.Warn("Skipping integration with invalid revenue configuration",
				slog.String("integration_id", id),
				slog.String("error", err.Error()),
			)

			continue
		}

		impacts := c.Compute(id, cfg, events, results, strong[id], from, periodEnd, startTime)

		for i := range impacts {
			if err := c.store.UpsertImpact(ctx, &impacts[i]); err != nil {
				return fmt.Errorf("revenue: upsert impact for %q: %w", id, err)
			}

			upserted++
		}
	}

	c.logger.Info("Revenue pass complete",
		slog.Int("integrations", len(ids)),
		slog.Int("impacts_upserted", upserted),
		slog.Int("integrations_degraded", degraded),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return nil
}

// Compute derives impact rows for one integration across all lookback
// periods. Pure and deterministic: inputs arrive sorted, categories run in
// fixed order, float accumulation order never varies.
func (c *Calculator) Compute(
	integrationID string,
	cfg IntegrationConfig,
	events []ingestion.IntegrationEvent,
	results []ingestion.TestResult,
	strongTests map[string]struct{},
	from, to time.Time,
	computedAt time.Time,
) []Impact {
	var impacts []Impact

	for periodStart := from; periodStart.Before(to); periodStart = periodStart.Add(c.config.PeriodLength) {
		periodEnd := periodStart.Add(c.config.PeriodLength)

		magnitudes := map[Category]float64{}

		var totalMagnitude float64

		for i := range events {
			ev := &events[i]
			if ev.IntegrationID != integrationID || !inPeriod(ev.OccurredAt, periodStart, periodEnd) {
				continue
			}

			category, ok := categoryFor(ev.EventType)
			if !ok {
				continue // generic errors carry no revenue category
			}

			magnitudes[category] += ev.Magnitude
			totalMagnitude += ev.Magnitude
		}

		// Passes of strongly correlated tests represent failures the suite
		// caught before they reached the live integration.
		var protectedPasses int

		for i := range results {
			r := &results[i]
			if r.Outcome != ingestion.OutcomePass || !inPeriod(r.ExecutedAt, periodStart, periodEnd) {
				continue
			}

			if _, ok := strongTests[r.TestCaseID]; ok {
				protectedPasses++
			}
		}

		protectedTotal := float64(protectedPasses) * cfg.AvgBookingValue * cfg.LeakagePercentage

		for _, category := range Categories() {
			atRisk := magnitudes[category] * cfg.AvgBookingValue * cfg.LeakagePercentage

			// Protection is attributed by each category's share of the at-risk
			// magnitude; with no at-risk events it lands on booking_loss.
			var protected float64

			switch {
			case totalMagnitude > 0:
				protected = protectedTotal * magnitudes[category] / totalMagnitude
			case category == CategoryBookingLoss:
				protected = protectedTotal
			}

			if atRisk == 0 && protected == 0 {
				continue
			}

			impacts = append(impacts, Impact{
				IntegrationID:    integrationID,
				Category:         category,
				PeriodStart:      periodStart,
				PeriodEnd:        periodEnd,
				RevenueAtRisk:    atRisk,
				RevenueProtected: protected,
				ComputedAt:       computedAt,
			})
		}
	}

	return impacts
}

// strongPairs returns, per integration, the set of test cases whose
// correlation clears both the score and confidence cutoffs.
func (c *Calculator) strongPairs(ctx context.Context) (map[string]map[string]struct{}, error) {
	rows, err := c.correlations.QueryCorrelations(ctx, &correlation.Filter{MinScore: &c.config.ScoreCutoff})
	if err != nil {
		return nil, fmt.Errorf("revenue: query correlations: %w", err)
	}

	strong := make(map[string]map[string]struct{})

	for i := range rows {
		if rows[i].Confidence < c.config.ConfidenceCutoff {
			continue
		}

		tests, ok := strong[rows[i].IntegrationID]
		if !ok {
			tests = make(map[string]struct{})
			strong[rows[i].IntegrationID] = tests
		}

		tests[rows[i].TestCaseID] = struct{}{}
	}

	return strong, nil
}

// loadConfigs fetches the per-integration records fresh for this run and
// applies file overrides on top.
func (c *Calculator) loadConfigs(ctx context.Context) (map[string]IntegrationConfig, error) {
	records, err := c.configs.ListIntegrationConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("revenue: list integration configs: %w", err)
	}

	configs := make(map[string]IntegrationConfig, len(records))
	for i := range records {
		configs[records[i].IntegrationID] = records[i]
	}

	for i := range c.overrides.Integrations {
		override := c.overrides.Integrations[i]
		configs[override.IntegrationID] = override
	}

	return configs, nil
}

// configFor resolves the effective configuration for one integration:
// configured record if present and valid, otherwise defaults.
func (c *Calculator) configFor(integrationID string, configs map[string]IntegrationConfig) (IntegrationConfig, error) {
	cfg, ok := configs[integrationID]
	if !ok {
		return IntegrationConfig{
			IntegrationID:     integrationID,
			AvgBookingValue:   DefaultAvgBookingValue,
			LeakagePercentage: DefaultLeakagePercentage,
		}, nil
	}

	if err := cfg.Validate(); err != nil {
		return IntegrationConfig{}, err
	}

	return cfg, nil
}

// integrationIDs returns the sorted union of integrations seen in events and
// configured records.
func integrationIDs(events []ingestion.IntegrationEvent, configs map[string]IntegrationConfig) []string {
	seen := make(map[string]struct{})

	for i := range events {
		seen[events[i].IntegrationID] = struct{}{}
	}

	for id := range configs {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// categoryFor maps an event type to its revenue category.
func categoryFor(eventType ingestion.EventType) (Category, bool) {
	switch eventType {
	case ingestion.EventTypePricingSyncError:
		return CategoryPricing, true
	case ingestion.EventTypeFeeSyncError:
		return CategoryFees, true
	case ingestion.EventTypeBookingLoss:
		return CategoryBookingLoss, true
	default:
		return "", false
	}
}

// inPeriod reports whether t falls in [start, end).
func inPeriod(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
