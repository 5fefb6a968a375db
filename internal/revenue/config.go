package revenue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qawatch-io/qawatch/internal/config"
)

// Revenue defaults. $250 average booking value and 5% leakage are the
// stakeholder-agreed baseline; real integrations override them per record.
const (
	DefaultAvgBookingValue   = 250.0
	DefaultLeakagePercentage = 0.05

	defaultPeriodLength = 24 * time.Hour
	defaultLookback     = 30
	defaultScoreCutoff  = 0.7
	defaultConfCutoff   = 0.5
)

// DefaultConfigPath is the default location for the QAWatch configuration file.
const DefaultConfigPath = ".qawatch.yaml"

// ConfigPathEnvVar is the environment variable name for a custom config path.
const ConfigPathEnvVar = "QAWATCH_CONFIG_PATH"

// ErrConfiguration marks a missing or invalid revenue configuration for an
// integration. The calculator skips that integration for the run and flags it
// via the degraded-computation marker instead of failing the whole run.
var ErrConfiguration = errors.New("invalid revenue configuration")

type (
	// CalculatorConfig holds the calculator tuning knobs.
	CalculatorConfig struct {
		// PeriodLength is the fixed computation bucket (UTC-aligned).
		PeriodLength time.Duration
		// LookbackPeriods is how many trailing periods each run recomputes.
		LookbackPeriods int
		// ScoreCutoff and ConfidenceCutoff define a "strong" correlation for
		// the revenue-protected calculation.
		ScoreCutoff      float64
		ConfidenceCutoff float64
	}

	// FileConfig is the optional YAML override file (.qawatch.yaml) mapping
	// integration ids to revenue settings. Mirrors the per-integration table;
	// file entries win over table rows, both win over defaults.
	FileConfig struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		Integrations []IntegrationConfig `yaml:"integrations"`
	}
)

// LoadCalculatorConfig loads calculator settings from environment variables
// with fallback to defaults.
func LoadCalculatorConfig() *CalculatorConfig {
	return &CalculatorConfig{
		PeriodLength:     config.GetEnvDuration("QAWATCH_REVENUE_PERIOD", defaultPeriodLength),
		LookbackPeriods:  config.GetEnvInt("QAWATCH_REVENUE_LOOKBACK_PERIODS", defaultLookback),
		ScoreCutoff:      config.GetEnvFloat("QAWATCH_REVENUE_SCORE_CUTOFF", defaultScoreCutoff),
		ConfidenceCutoff: config.GetEnvFloat("QAWATCH_REVENUE_CONFIDENCE_CUTOFF", defaultConfCutoff),
	}
}

// Validate checks one integration configuration record.
func (c *IntegrationConfig) Validate() error {
	if c.IntegrationID == "" {
		return fmt.Errorf("%w: integration_id is required", ErrConfiguration)
	}

	if c.AvgBookingValue <= 0 {
		return fmt.Errorf("%w: avg_booking_value must be positive for %q", ErrConfiguration, c.IntegrationID)
	}

	if c.LeakagePercentage <= 0 || c.LeakagePercentage > 1 {
		return fmt.Errorf("%w: leakage_percentage must be in (0, 1] for %q", ErrConfiguration, c.IntegrationID)
	}

	return nil
}

// LoadFileConfig loads integration overrides from a YAML file at the given path.
//
// Behavior mirrors other optional config files: a missing file returns an
// empty config, an unreadable or invalid file logs a warning and returns an
// empty config, so the service always starts.
func LoadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Config file not found, continuing without revenue overrides",
				slog.String("path", path))

			return cfg
		}

		slog.Warn("Failed to read config file, continuing without revenue overrides",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg
	}

	if len(data) == 0 {
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse config file, continuing without revenue overrides",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &FileConfig{}
	}

	return cfg
}

// LoadFileConfigFromEnv loads the override file from QAWATCH_CONFIG_PATH,
// falling back to ".qawatch.yaml" in the current directory.
func LoadFileConfigFromEnv() *FileConfig {
	return LoadFileConfig(config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath))
}
