package detector

import (
	"errors"
	"time"

	"github.com/qawatch-io/qawatch/internal/config"
)

// Detection defaults. All thresholds are first-generation deterministic
// heuristics, tunable via environment until a learned model replaces them.
const (
	defaultWindow             = 30 * 24 * time.Hour
	defaultExcessRatio        = 1.5
	defaultMinClusterSize     = 3
	defaultMinRunLength       = 5
	defaultCriticalRunLength  = 7
	defaultSpikeBucket        = time.Hour
	defaultSpikeBaseline      = 7
	defaultSpikeMinBaseline   = 4
	defaultSpikeSigma         = 3.0
	defaultSpikeCriticalSigma = 5.0
	defaultSnapshotWindow     = 24 * time.Hour
	defaultCriticalEventCount = 5
)

var (
	// ErrInvalidWindow is returned when the detection window is not positive.
	ErrInvalidWindow = errors.New("detection window must be greater than zero")
	// ErrInvalidExcessRatio is returned when the excess ratio threshold is not above 1.
	ErrInvalidExcessRatio = errors.New("excess ratio threshold must be greater than 1")
	// ErrInvalidRunLength is returned when run length thresholds are inconsistent.
	ErrInvalidRunLength = errors.New("critical run length must not be below minimum run length")
)

// Config holds the anomaly detection thresholds.
type Config struct {
	// Window is the trailing detection window scanned on each run.
	Window time.Duration
	// ExcessRatio marks a ticket excessive when actual/estimated exceeds it.
	ExcessRatio float64
	// MinClusterSize is the number of excessive tickets sharing a component
	// required to emit a time_excess pattern.
	MinClusterSize int
	// MinRunLength is the consecutive excessive-ticket count that triggers a
	// consecutive_problem pattern; CriticalRunLength upgrades it to critical.
	MinRunLength      int
	CriticalRunLength int
	// SpikeBucket is the fixed aggregation bucket for integration event
	// magnitudes. SpikeBaseline buckets preceding a candidate form the rolling
	// baseline; fewer than SpikeMinBaseline buckets skips the candidate.
	SpikeBucket      time.Duration
	SpikeBaseline    int
	SpikeMinBaseline int
	// SpikeSigma and SpikeCriticalSigma are the warning and critical trigger
	// multiples of the baseline standard deviation.
	SpikeSigma         float64
	SpikeCriticalSigma float64
	// SnapshotWindow bounds which patterns and events feed the health snapshot.
	SnapshotWindow time.Duration
	// CriticalEventCount is the per-category 24h event count at which a
	// sub-metric status becomes critical.
	CriticalEventCount int
}

// LoadConfig loads detection thresholds from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Window:             config.GetEnvDuration("QAWATCH_DETECTOR_WINDOW", defaultWindow),
		ExcessRatio:        config.GetEnvFloat("QAWATCH_EXCESS_RATIO", defaultExcessRatio),
		MinClusterSize:     config.GetEnvInt("QAWATCH_MIN_CLUSTER_SIZE", defaultMinClusterSize),
		MinRunLength:       config.GetEnvInt("QAWATCH_MIN_RUN_LENGTH", defaultMinRunLength),
		CriticalRunLength:  config.GetEnvInt("QAWATCH_CRITICAL_RUN_LENGTH", defaultCriticalRunLength),
		SpikeBucket:        config.GetEnvDuration("QAWATCH_SPIKE_BUCKET", defaultSpikeBucket),
		SpikeBaseline:      config.GetEnvInt("QAWATCH_SPIKE_BASELINE", defaultSpikeBaseline),
		SpikeMinBaseline:   config.GetEnvInt("QAWATCH_SPIKE_MIN_BASELINE", defaultSpikeMinBaseline),
		SpikeSigma:         config.GetEnvFloat("QAWATCH_SPIKE_SIGMA", defaultSpikeSigma),
		SpikeCriticalSigma: config.GetEnvFloat("QAWATCH_SPIKE_CRITICAL_SIGMA", defaultSpikeCriticalSigma),
		SnapshotWindow:     config.GetEnvDuration("QAWATCH_SNAPSHOT_WINDOW", defaultSnapshotWindow),
		CriticalEventCount: config.GetEnvInt("QAWATCH_CRITICAL_EVENT_COUNT", defaultCriticalEventCount),
	}
}

// Validate checks that the detection configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Window <= 0 {
		return ErrInvalidWindow
	}

	if c.ExcessRatio <= 1 {
		return ErrInvalidExcessRatio
	}

	if c.CriticalRunLength < c.MinRunLength {
		return ErrInvalidRunLength
	}

	return nil
}
