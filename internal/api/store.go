package api

import (
	"github.com/qawatch-io/qawatch/internal/alerting"
	"github.com/qawatch-io/qawatch/internal/correlation"
	"github.com/qawatch-io/qawatch/internal/detector"
	"github.com/qawatch-io/qawatch/internal/ingestion"
	"github.com/qawatch-io/qawatch/internal/revenue"
)

// Stores bundles the domain persistence interfaces the HTTP handlers need.
// Handlers depend on the domain interfaces, never on concrete storage types,
// so tests can inject the in-memory store.
type Stores struct {
	Events       ingestion.Store
	Batch        ingestion.BatchAppender
	Patterns     detector.PatternStore
	Snapshots    detector.SnapshotStore
	Correlations correlation.Store
	Impacts      revenue.Store
	Alerts       alerting.Store
}
