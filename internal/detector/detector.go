package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/qawatch-io/qawatch/internal/ingestion"
)

// Detector scans the trailing window on a periodic schedule and persists
// Pattern rows plus refreshed health snapshots. It never mutates input events.
type Detector struct {
	events    ingestion.Store
	patterns  PatternStore
	snapshots SnapshotStore
	config    *Config
	logger    *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New creates a Detector. A nil config loads thresholds from the environment.
func New(events ingestion.Store, patterns PatternStore, snapshots SnapshotStore, cfg *Config, logger *slog.Logger) *Detector {
	if cfg == nil {
		cfg = LoadConfig()
	}

	return &Detector{
		events:    events,
		patterns:  patterns,
		snapshots: snapshots,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements scheduler.Task.
func (d *Detector) Name() string { return "anomaly-detector" }

// Run executes one detection pass over the trailing window.
//
// Idempotence: re-running over an unchanged window emits no new patterns,
// because every candidate is compared against the latest stored pattern of the
// same type and entity set before being written.
func (d *Detector) Run(ctx context.Context) error {
	startTime := d.now().UTC()
	from := startTime.Add(-d.config.Window)

	logs, err := d.events.QueryTimeLogs(ctx, from, startTime)
	if err != nil {
		return fmt.Errorf("detector: query time logs: %w", err)
	}

	events, err := d.events.QueryIntegrationEvents(ctx, "", from, startTime)
	if err != nil {
		return fmt.Errorf("detector: query integration events: %w", err)
	}

	candidates := d.detectTimeExcess(logs, startTime)
	candidates = append(candidates, d.detectConsecutive(logs, startTime)...)
	candidates = append(candidates, d.detectSpikes(events, startTime)...)

	emitted := 0

	for i := range candidates {
		created, err := d.emit(ctx, &candidates[i])
		if err != nil {
			return err
		}

		if created {
			emitted++
		}
	}

	if err := d.refreshSnapshots(ctx, events, startTime); err != nil {
		return err
	}

	d.logger.Info("Detection pass complete",
		slog.Int("time_logs", len(logs)),
		slog.Int("integration_events", len(events)),
		slog.Int("candidates", len(candidates)),
		slog.Int("patterns_emitted", emitted),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)

	return nil
}

// emit persists a candidate unless the latest stored pattern of the same type
// and entity set already describes the same threshold crossing.
func (d *Detector) emit(ctx context.Context, p *Pattern) (bool, error) {
	latest, err := d.patterns.LatestPattern(ctx, p.Type, p.EntityKey)
	if err != nil {
		return false, fmt.Errorf("detector: lookup latest pattern: %w", err)
	}

	if latest != nil && latest.Severity == p.Severity {
		// Unchanged condition: same entities, same threshold crossing.
		return false, nil
	}

	if err := d.patterns.CreatePattern(ctx, p); err != nil {
		return false, fmt.Errorf("detector: create pattern: %w", err)
	}

	d.logger.Info("Pattern detected",
		slog.String("pattern_id", p.ID),
		slog.String("pattern_type", string(p.Type)),
		slog.String("severity", string(p.Severity)),
		slog.Float64("confidence", p.ConfidenceScore),
		slog.Int("affected_entities", len(p.AffectedEntities)),
	)

	return true, nil
}

// detectTimeExcess groups excessive tickets by shared component tag and emits
// one time_excess pattern per component with MinClusterSize or more offenders.
func (d *Detector) detectTimeExcess(logs []ingestion.WorkflowTimeLog, detectedAt time.Time) []Pattern {
	type cluster struct {
		tickets []string
		ratios  []float64
	}

	clusters := make(map[string]*cluster)

	for i := range logs {
		log := &logs[i]
		if log.Component == "" {
			continue
		}

		ratio := log.ExcessRatio()
		if ratio <= d.config.ExcessRatio {
			continue
		}

		c, ok := clusters[log.Component]
		if !ok {
			c = &cluster{}
			clusters[log.Component] = c
		}

		c.tickets = append(c.tickets, log.TicketID)
		c.ratios = append(c.ratios, ratio)
	}

	// Deterministic emission order.
	components := make([]string, 0, len(clusters))
	for component := range clusters {
		components = append(components, component)
	}

	sort.Strings(components)

	var patterns []Pattern

	for _, component := range components {
		c := clusters[component]
		if len(c.tickets) < d.config.MinClusterSize {
			continue
		}

		var excessSum float64
		for _, ratio := range c.ratios {
			excessSum += (ratio - 1) * 100
		}

		avgExcess := excessSum / float64(len(c.ratios))
		confidence := math.Min(1.0, float64(len(c.tickets))/10)

		severity := SeverityWarning
		if confidence >= 1.0 {
			severity = SeverityCritical
		}

		patterns = append(patterns, Pattern{
			ID:               uuid.NewString(),
			Type:             PatternTimeExcess,
			Severity:         severity,
			ConfidenceScore:  confidence,
			AffectedEntities: c.tickets,
			CommonFactor:     component,
			Description: fmt.Sprintf(
				"%d tickets for component %q exceeded their estimate by %.0f%% on average",
				len(c.tickets), component, avgExcess,
			),
			AvgExcessPercent: &avgExcess,
			DetectedAt:       detectedAt,
			EntityKey:        EntityKey(PatternTimeExcess, c.tickets),
		})
	}

	return patterns
}

// detectConsecutive orders tickets by completion time and emits a
// consecutive_problem pattern for every maximal run of MinRunLength or more
// excessive tickets.
func (d *Detector) detectConsecutive(logs []ingestion.WorkflowTimeLog, detectedAt time.Time) []Pattern {
	ordered := make([]ingestion.WorkflowTimeLog, len(logs))
	copy(ordered, logs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CompletedAt.Equal(ordered[j].CompletedAt) {
			return ordered[i].TicketID < ordered[j].TicketID
		}

		return ordered[i].CompletedAt.Before(ordered[j].CompletedAt)
	})

	var (
		patterns []Pattern
		run      []string
	)

	flush := func() {
		if len(run) >= d.config.MinRunLength {
			severity := SeverityWarning
			if len(run) >= d.config.CriticalRunLength {
				severity = SeverityCritical
			}

			patterns = append(patterns, Pattern{
				ID:               uuid.NewString(),
				Type:             PatternConsecutiveProblem,
				Severity:         severity,
				ConfidenceScore:  math.Min(1.0, float64(len(run))/10),
				AffectedEntities: append([]string(nil), run...),
				Description: fmt.Sprintf(
					"%d consecutive tickets exceeded their time estimate", len(run),
				),
				DetectedAt: detectedAt,
				EntityKey:  EntityKey(PatternConsecutiveProblem, run),
			})
		}

		run = run[:0]
	}

	for i := range ordered {
		if ordered[i].ExcessRatio() > d.config.ExcessRatio {
			run = append(run, ordered[i].TicketID)
			continue
		}

		flush()
	}

	flush()

	return patterns
}

// detectSpikes aggregates integration event magnitudes into fixed buckets per
// integration and flags buckets exceeding the rolling baseline by
// SpikeSigma standard deviations.
func (d *Detector) detectSpikes(events []ingestion.IntegrationEvent, detectedAt time.Time) []Pattern {
	buckets := make(map[string]map[time.Time]float64)

	for i := range events {
		ev := &events[i]

		byTime, ok := buckets[ev.IntegrationID]
		if !ok {
			byTime = make(map[time.Time]float64)
			buckets[ev.IntegrationID] = byTime
		}

		byTime[ev.OccurredAt.UTC().Truncate(d.config.SpikeBucket)] += ev.Magnitude
	}

	integrations := make([]string, 0, len(buckets))
	for id := range buckets {
		integrations = append(integrations, id)
	}

	sort.Strings(integrations)

	var patterns []Pattern

	for _, id := range integrations {
		patterns = append(patterns, d.spikesForIntegration(id, buckets[id], detectedAt)...)
	}

	return patterns
}

func (d *Detector) spikesForIntegration(integrationID string, byTime map[time.Time]float64, detectedAt time.Time) []Pattern {
	if len(byTime) == 0 {
		return nil
	}

	var first, last time.Time

	for bucket := range byTime {
		if first.IsZero() || bucket.Before(first) {
			first = bucket
		}

		if bucket.After(last) {
			last = bucket
		}
	}

	// Continuous series from first to last bucket; gaps count as zero load.
	var series []float64

	var times []time.Time

	for bucket := first; !bucket.After(last); bucket = bucket.Add(d.config.SpikeBucket) {
		series = append(series, byTime[bucket])
		times = append(times, bucket)
	}

	var patterns []Pattern

	for i := range series {
		if i < d.config.SpikeMinBaseline {
			continue // insufficient baseline, silently skipped
		}

		start := i - d.config.SpikeBaseline
		if start < 0 {
			start = 0
		}

		mean, stddev := meanStddev(series[start:i])
		if stddev == 0 {
			// A flat baseline gives no scale for deviation; skip rather than
			// flag every nonzero bucket.
			continue
		}

		value := series[i]
		if value <= mean+d.config.SpikeSigma*stddev {
			continue
		}

		severity := SeverityWarning
		if value > mean+d.config.SpikeCriticalSigma*stddev {
			severity = SeverityCritical
		}

		confidence := (value - mean) / (d.config.SpikeCriticalSigma * stddev)
		confidence = math.Max(0, math.Min(1.0, confidence))

		entities := []string{integrationID, times[i].Format(time.RFC3339)}

		patterns = append(patterns, Pattern{
			ID:               uuid.NewString(),
			Type:             PatternSpike,
			Severity:         severity,
			ConfidenceScore:  confidence,
			AffectedEntities: entities,
			Description: fmt.Sprintf(
				"Event magnitude %.1f for integration %q exceeded baseline %.1f ± %.1f",
				value, integrationID, mean, stddev,
			),
			DetectedAt: detectedAt,
			EntityKey:  EntityKey(PatternSpike, entities),
		})
	}

	return patterns
}

// meanStddev returns the population mean and standard deviation of values.
func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}

	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}
