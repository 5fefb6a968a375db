package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/detector"
	"github.com/qawatch-io/qawatch/internal/ingestion"
	"github.com/qawatch-io/qawatch/internal/revenue"
)

// Compile-time interface assertions: the in-memory store is a drop-in
// replacement for every PostgreSQL-backed store in tests.
var (
	_ ingestion.Store         = (*MemoryStore)(nil)
	_ ingestion.BatchAppender = (*MemoryStore)(nil)
	_ detector.PatternStore   = (*MemoryStore)(nil)
	_ detector.SnapshotStore  = (*MemoryStore)(nil)
	_ correlation.Store       = (*MemoryStore)(nil)
	_ revenue.Store           = (*MemoryStore)(nil)
	_ revenue.ConfigStore     = (*MemoryStore)(nil)
	_ alerting.Store          = (*MemoryStore)(nil)
)

type (
	timeLogKey struct {
		ticketID    string
		completedAt time.Time
	}

	testResultKey struct {
		testCaseID string
		executedAt time.Time
	}

	integrationEventKey struct {
		integrationID string
		eventType     ingestion.EventType
		occurredAt    time.Time
	}

	correlationKey struct {
		testCaseID    string
		integrationID string
	}

	impactKey struct {
		integrationID string
		category      revenue.Category
		periodStart   time.Time
	}
)

// MemoryStore is a thread-safe in-memory implementation of every storage
// interface in the system. It mirrors the PostgreSQL stores' semantics
// (natural-key dedup, upserts, ordering, the live-alert invariant) so unit
// tests can exercise engines without a database.
type MemoryStore struct {
	mu sync.RWMutex

	timeLogs          map[timeLogKey]ingestion.WorkflowTimeLog
	testResults       map[testResultKey]ingestion.TestResult
	integrationEvents map[integrationEventKey]ingestion.IntegrationEvent

	patterns  []detector.Pattern
	snapshots map[string]detector.HealthSnapshot

	correlations map[correlationKey]correlation.Correlation

	impacts            map[impactKey]revenue.Impact
	integrationConfigs map[string]revenue.IntegrationConfig

	alerts map[string]alerting.Alert
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		timeLogs:           make(map[timeLogKey]ingestion.WorkflowTimeLog),
		testResults:        make(map[testResultKey]ingestion.TestResult),
		integrationEvents:  make(map[integrationEventKey]ingestion.IntegrationEvent),
		snapshots:          make(map[string]detector.HealthSnapshot),
		correlations:       make(map[correlationKey]correlation.Correlation),
		impacts:            make(map[impactKey]revenue.Impact),
		integrationConfigs: make(map[string]revenue.IntegrationConfig),
		alerts:             make(map[string]alerting.Alert),
	}
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// AppendTimeLog implements ingestion.Store.
func (s *MemoryStore) AppendTimeLog(_ context.Context, log *ingestion.WorkflowTimeLog) (bool, bool, error) {
	if err := log.Validate(); err != nil {
		return false, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := timeLogKey{ticketID: log.TicketID, completedAt: log.CompletedAt.UTC()}
	if _, exists := s.timeLogs[key]; exists {
		return false, true, nil
	}

	s.timeLogs[key] = *log

	return true, false, nil
}

// AppendTestResult implements ingestion.Store.
func (s *MemoryStore) AppendTestResult(_ context.Context, result *ingestion.TestResult) (bool, bool, error) {
	if err := result.Validate(); err != nil {
		return false, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := testResultKey{testCaseID: result.TestCaseID, executedAt: result.ExecutedAt.UTC()}
	if _, exists := s.testResults[key]; exists {
		return false, true, nil
	}

	s.testResults[key] = *result

	return true, false, nil
}

// AppendIntegrationEvent implements ingestion.Store.
func (s *MemoryStore) AppendIntegrationEvent(_ context.Context, event *ingestion.IntegrationEvent) (bool, bool, error) {
	if err := event.Validate(); err != nil {
		return false, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := integrationEventKey{
		integrationID: event.IntegrationID,
		eventType:     event.EventType,
		occurredAt:    event.OccurredAt.UTC(),
	}
	if _, exists := s.integrationEvents[key]; exists {
		return false, true, nil
	}

	s.integrationEvents[key] = *event

	return true, false, nil
}

// AppendTimeLogs implements ingestion.BatchAppender.
func (s *MemoryStore) AppendTimeLogs(ctx context.Context, logs []*ingestion.WorkflowTimeLog) []ingestion.AppendResult {
	results := make([]ingestion.AppendResult, len(logs))

	for i, log := range logs {
		stored, duplicate, err := s.AppendTimeLog(ctx, log)
		results[i] = ingestion.AppendResult{Index: i, Stored: stored, Duplicate: duplicate, Error: err}
	}

	return results
}

// AppendTestResults implements ingestion.BatchAppender.
func (s *MemoryStore) AppendTestResults(ctx context.Context, testResults []*ingestion.TestResult) []ingestion.AppendResult {
	results := make([]ingestion.AppendResult, len(testResults))

	for i, r := range testResults {
		stored, duplicate, err := s.AppendTestResult(ctx, r)
		results[i] = ingestion.AppendResult{Index: i, Stored: stored, Duplicate: duplicate, Error: err}
	}

	return results
}

// AppendIntegrationEvents implements ingestion.BatchAppender.
func (s *MemoryStore) AppendIntegrationEvents(ctx context.Context, events []*ingestion.IntegrationEvent) []ingestion.AppendResult {
	results := make([]ingestion.AppendResult, len(events))

	for i, e := range events {
		stored, duplicate, err := s.AppendIntegrationEvent(ctx, e)
		results[i] = ingestion.AppendResult{Index: i, Stored: stored, Duplicate: duplicate, Error: err}
	}

	return results
}

// QueryTimeLogs implements ingestion.Store.
func (s *MemoryStore) QueryTimeLogs(_ context.Context, from, to time.Time) ([]ingestion.WorkflowTimeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []ingestion.WorkflowTimeLog

	for _, log := range s.timeLogs {
		if inRange(log.CompletedAt, from, to) {
			logs = append(logs, log)
		}
	}

	sort.Slice(logs, func(i, j int) bool {
		if !logs[i].CompletedAt.Equal(logs[j].CompletedAt) {
			return logs[i].CompletedAt.Before(logs[j].CompletedAt)
		}

		return logs[i].TicketID < logs[j].TicketID
	})

	return logs, nil
}

// QueryTestResults implements ingestion.Store.
func (s *MemoryStore) QueryTestResults(_ context.Context, from, to time.Time) ([]ingestion.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ingestion.TestResult

	for _, r := range s.testResults {
		if inRange(r.ExecutedAt, from, to) {
			results = append(results, r)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].ExecutedAt.Equal(results[j].ExecutedAt) {
			return results[i].ExecutedAt.Before(results[j].ExecutedAt)
		}

		return results[i].TestCaseID < results[j].TestCaseID
	})

	return results, nil
}

// QueryIntegrationEvents implements ingestion.Store.
func (s *MemoryStore) QueryIntegrationEvents(
	_ context.Context,
	integrationID string,
	from, to time.Time,
) ([]ingestion.IntegrationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []ingestion.IntegrationEvent

	for _, e := range s.integrationEvents {
		if integrationID != "" && e.IntegrationID != integrationID {
			continue
		}

		if inRange(e.OccurredAt, from, to) {
			events = append(events, e)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}

		if events[i].IntegrationID != events[j].IntegrationID {
			return events[i].IntegrationID < events[j].IntegrationID
		}

		return events[i].EventType < events[j].EventType
	})

	return events, nil
}

// CreatePattern implements detector.PatternStore.
func (s *MemoryStore) CreatePattern(_ context.Context, p *detector.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	stored := *p
	stored.AffectedEntities = append([]string(nil), p.AffectedEntities...)
	s.patterns = append(s.patterns, stored)

	return nil
}

// LatestPattern implements detector.PatternStore.
func (s *MemoryStore) LatestPattern(
	_ context.Context,
	patternType detector.PatternType,
	entityKey string,
) (*detector.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *detector.Pattern

	for i := range s.patterns {
		p := &s.patterns[i]
		if p.Type != patternType || p.EntityKey != entityKey {
			continue
		}

		if latest == nil || p.DetectedAt.After(latest.DetectedAt) {
			latest = p
		}
	}

	if latest == nil {
		return nil, nil
	}

	found := *latest

	return &found, nil
}

// QueryPatterns implements detector.PatternStore. A limit of 0 disables
// pagination.
func (s *MemoryStore) QueryPatterns(
	_ context.Context,
	filter *detector.PatternFilter,
	limit, offset int,
) ([]detector.Pattern, int, error) {
	if filter == nil {
		filter = &detector.PatternFilter{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []detector.Pattern

	for i := range s.patterns {
		p := s.patterns[i]

		if filter.Type != nil && p.Type != *filter.Type {
			continue
		}

		if filter.Severity != nil && p.Severity != *filter.Severity {
			continue
		}

		if filter.DetectedAfter != nil && p.DetectedAt.Before(*filter.DetectedAfter) {
			continue
		}

		if filter.DetectedBefore != nil && !p.DetectedAt.Before(*filter.DetectedBefore) {
			continue
		}

		matched = append(matched, p)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].DetectedAt.Equal(matched[j].DetectedAt) {
			return matched[i].DetectedAt.After(matched[j].DetectedAt)
		}

		return matched[i].ID < matched[j].ID
	})

	total := len(matched)

	if limit > 0 {
		if offset >= len(matched) {
			return nil, total, nil
		}

		matched = matched[offset:]
		if len(matched) > limit {
			matched = matched[:limit]
		}
	}

	return matched, total, nil
}

// UpsertSnapshot implements detector.SnapshotStore.
func (s *MemoryStore) UpsertSnapshot(_ context.Context, snapshot *detector.HealthSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.IntegrationID] = *snapshot

	return nil
}

// GetSnapshot implements detector.SnapshotStore.
func (s *MemoryStore) GetSnapshot(_ context.Context, integrationID string) (*detector.HealthSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[integrationID]
	if !ok {
		return nil, nil
	}

	return &snapshot, nil
}

// ListSnapshots implements detector.SnapshotStore.
func (s *MemoryStore) ListSnapshots(_ context.Context) ([]detector.HealthSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := make([]detector.HealthSnapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		snapshots = append(snapshots, snapshot)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].IntegrationID < snapshots[j].IntegrationID
	})

	return snapshots, nil
}

// UpsertCorrelation implements correlation.Store.
func (s *MemoryStore) UpsertCorrelation(_ context.Context, c *correlation.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := correlationKey{testCaseID: c.TestCaseID, integrationID: c.IntegrationID}
	s.correlations[key] = *c

	return nil
}

// QueryCorrelations implements correlation.Store.
func (s *MemoryStore) QueryCorrelations(
	_ context.Context,
	filter *correlation.Filter,
) ([]correlation.Correlation, error) {
	if filter == nil {
		filter = &correlation.Filter{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var correlations []correlation.Correlation

	for _, c := range s.correlations {
		if filter.TestCaseID != "" && c.TestCaseID != filter.TestCaseID {
			continue
		}

		if filter.IntegrationID != "" && c.IntegrationID != filter.IntegrationID {
			continue
		}

		if filter.MinScore != nil && c.Score < *filter.MinScore {
			continue
		}

		correlations = append(correlations, c)
	}

	sort.Slice(correlations, func(i, j int) bool {
		if correlations[i].Score != correlations[j].Score {
			return correlations[i].Score > correlations[j].Score
		}

		if correlations[i].TestCaseID != correlations[j].TestCaseID {
			return correlations[i].TestCaseID < correlations[j].TestCaseID
		}

		return correlations[i].IntegrationID < correlations[j].IntegrationID
	})

	return correlations, nil
}

// PruneStale implements correlation.Store.
func (s *MemoryStore) PruneStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int

	for key, c := range s.correlations {
		if c.LastObservedAt.Before(cutoff) {
			delete(s.correlations, key)

			pruned++
		}
	}

	return pruned, nil
}

// UpsertImpact implements revenue.Store.
func (s *MemoryStore) UpsertImpact(_ context.Context, impact *revenue.Impact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := impactKey{
		integrationID: impact.IntegrationID,
		category:      impact.Category,
		periodStart:   impact.PeriodStart.UTC(),
	}
	s.impacts[key] = *impact

	return nil
}

// QueryImpacts implements revenue.Store.
func (s *MemoryStore) QueryImpacts(_ context.Context, filter *revenue.Filter) ([]revenue.Impact, error) {
	if filter == nil {
		filter = &revenue.Filter{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var impacts []revenue.Impact

	for _, impact := range s.impacts {
		if filter.IntegrationID != "" && impact.IntegrationID != filter.IntegrationID {
			continue
		}

		if filter.Category != nil && impact.Category != *filter.Category {
			continue
		}

		if filter.PeriodAfter != nil && impact.PeriodStart.Before(*filter.PeriodAfter) {
			continue
		}

		if filter.PeriodBefore != nil && !impact.PeriodStart.Before(*filter.PeriodBefore) {
			continue
		}

		impacts = append(impacts, impact)
	}

	sort.Slice(impacts, func(i, j int) bool {
		if !impacts[i].PeriodStart.Equal(impacts[j].PeriodStart) {
			return impacts[i].PeriodStart.Before(impacts[j].PeriodStart)
		}

		if impacts[i].IntegrationID != impacts[j].IntegrationID {
			return impacts[i].IntegrationID < impacts[j].IntegrationID
		}

		return impacts[i].Category < impacts[j].Category
	})

	return impacts, nil
}

// SetIntegrationConfig seeds a per-integration revenue configuration record.
func (s *MemoryStore) SetIntegrationConfig(cfg revenue.IntegrationConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.integrationConfigs[cfg.IntegrationID] = cfg
}

// ListIntegrationConfigs implements revenue.ConfigStore.
func (s *MemoryStore) ListIntegrationConfigs(_ context.Context) ([]revenue.IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]revenue.IntegrationConfig, 0, len(s.integrationConfigs))
	for _, cfg := range s.integrationConfigs {
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool {
		return configs[i].IntegrationID < configs[j].IntegrationID
	})

	return configs, nil
}

// CreateAlert implements alerting.Store.
func (s *MemoryStore) CreateAlert(_ context.Context, alert *alerting.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.SourceType == alert.SourceType &&
			existing.SourceID == alert.SourceID &&
			existing.DismissedAt == nil {
			return false, nil
		}
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	s.alerts[alert.ID] = *alert

	return true, nil
}

// GetAlert implements alerting.Store.
func (s *MemoryStore) GetAlert(_ context.Context, id string) (*alerting.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, alerting.ErrAlertNotFound
	}

	return &alert, nil
}

// QueryAlerts implements alerting.Store.
func (s *MemoryStore) QueryAlerts(
	_ context.Context,
	filter *alerting.Filter,
	limit, offset int,
) ([]alerting.Alert, int, error) {
	if filter == nil {
		filter = &alerting.Filter{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []alerting.Alert

	for _, alert := range s.alerts {
		if filter.SourceType != "" && alert.SourceType != filter.SourceType {
			continue
		}

		if filter.Severity != "" && alert.Severity != filter.Severity {
			continue
		}

		if filter.LiveOnly && alert.DismissedAt != nil {
			continue
		}

		matched = append(matched, alert)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}

		return matched[i].ID < matched[j].ID
	})

	total := len(matched)

	if limit > 0 {
		if offset >= len(matched) {
			return nil, total, nil
		}

		matched = matched[offset:]
		if len(matched) > limit {
			matched = matched[:limit]
		}
	}

	return matched, total, nil
}

// DismissAlert implements alerting.Store.
func (s *MemoryStore) DismissAlert(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return alerting.ErrAlertNotFound
	}

	if alert.DismissedAt == nil {
		dismissed := at.UTC()
		alert.DismissedAt = &dismissed
		s.alerts[id] = alert
	}

	return nil
}

// inRange reports whether t falls in [from, to).
func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
