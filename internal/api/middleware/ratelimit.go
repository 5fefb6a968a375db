package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	defaultMaxConsumers        = 100
	defaultGlobalRPS           = 100
	defaultConsumerRPS         = 50
	defaultUnAuthRPS           = 10
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// The in-memory implementation suits single-node deployments; the
	// interface allows swapping in a distributed limiter without touching
	// the middleware.
	RateLimiter interface {
		// Allow reports whether a request should be admitted. consumerID is
		// empty for unauthenticated requests.
		Allow(consumerID string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using token buckets from
	// golang.org/x/time/rate, in three tiers: a global limit over all
	// requests, a per-consumer limit for authenticated requests, and a
	// shared limit for unauthenticated traffic.
	//
	// Idle consumer buckets are cleaned up periodically to bound memory.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perConsumer     map[string]*consumerLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}
		closeOnce       sync.Once

		consumerRPS     int
		consumerBurst   int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxConsumers    int
	}

	// consumerLimiter tracks rate limit state for a single consumer.
	consumerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a three-tier in-memory rate limiter.
// Burst capacity defaults to 2 × rate unless overridden in config.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		perConsumer:     make(map[string]*consumerLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(config.UnAuthRPS), computeBurstCapacity(config.UnAuthRPS, config.UnAuthBurst)),
		done:            make(chan struct{}),
		consumerRPS:     config.ConsumerRPS,
		consumerBurst:   computeBurstCapacity(config.ConsumerRPS, config.ConsumerBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxConsumers:    config.MaxConsumers,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns the override when positive, otherwise 2 × rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

// Allow implements the RateLimiter interface. The global bucket is checked
// first, then the consumer-specific or unauthenticated bucket.
func (rl *InMemoryRateLimiter) Allow(consumerID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if consumerID == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	cl, ok := rl.perConsumer[consumerID]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Re-check under the write lock.
		if cl, ok = rl.perConsumer[consumerID]; !ok {
			if len(rl.perConsumer) >= rl.maxConsumers {
				rl.mu.Unlock()

				slog.Warn("Rate limiter at max consumers, throttling unknown consumer",
					slog.String("consumer_id", consumerID),
					slog.Int("max_consumers", rl.maxConsumers),
				)

				return rl.unauthenticated.Allow()
			}

			cl = &consumerLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.consumerRPS), rl.consumerBurst),
				lastAccess: time.Now(),
			}
			rl.perConsumer[consumerID] = cl
		}
		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// startCleanup launches the background goroutine removing idle consumer buckets.
func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.done:
				return
			case <-rl.cleanupTicker.C:
				rl.cleanupIdleConsumers()
			}
		}
	}()
}

func (rl *InMemoryRateLimiter) cleanupIdleConsumers() {
	cutoff := time.Now().Add(-rl.idleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for id, cl := range rl.perConsumer {
		cl.mu.Lock()
		idle := cl.lastAccess.Before(cutoff)
		cl.mu.Unlock()

		if idle {
			delete(rl.perConsumer, id)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (rl *InMemoryRateLimiter) Close() {
	rl.closeOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}

// RateLimit creates a middleware that rejects rate-limited requests with 429.
// Public endpoints bypass the limiter so probes are never throttled.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			var consumerID string
			if consumerCtx, ok := GetConsumerContext(r.Context()); ok {
				consumerID = consumerCtx.ConsumerID
			}

			if !limiter.Allow(consumerID) {
				correlationID := GetCorrelationID(r.Context())

				logger.Warn("Request rate limited",
					slog.String("consumer_id", consumerID),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", correlationID),
				)

				w.Header().Set("Retry-After", "1")

				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests,
					"Rate limit exceeded, retry later", correlationID); err != nil {
					logger.Error("Failed to encode rate limit response",
						slog.Any("error", err),
						slog.String("correlation_id", correlationID),
					)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
