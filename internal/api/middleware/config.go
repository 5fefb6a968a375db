package middleware

import (
	"time"

	"github.com/qawatch-io/qawatch/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second for three tiers: global (all
// requests), per-consumer (authenticated), and unauthenticated. Burst fields
// of 0 are computed automatically as 2 × rate.
type Config struct {
	GlobalRPS   int
	ConsumerRPS int
	UnAuthRPS   int

	GlobalBurst   int
	ConsumerBurst int
	UnAuthBurst   int

	// Memory cleanup configuration for idle consumer buckets.
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxConsumers    int
}

// LoadConfig loads rate limiter config from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:   config.GetEnvInt("QAWATCH_GLOBAL_RPS", defaultGlobalRPS),
		ConsumerRPS: config.GetEnvInt("QAWATCH_CONSUMER_RPS", defaultConsumerRPS),
		UnAuthRPS:   config.GetEnvInt("QAWATCH_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst:   config.GetEnvInt("QAWATCH_GLOBAL_BURST", 0),
		ConsumerBurst: config.GetEnvInt("QAWATCH_CONSUMER_BURST", 0),
		UnAuthBurst:   config.GetEnvInt("QAWATCH_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration("QAWATCH_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("QAWATCH_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxConsumers:    config.GetEnvInt("QAWATCH_RATE_LIMIT_MAX_CONSUMERS", defaultMaxConsumers),
	}
}
