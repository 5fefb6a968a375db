package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRateLimitConfig() *Config {
	return &Config{
		GlobalRPS:       1000,
		ConsumerRPS:     1000,
		UnAuthRPS:       1000,
		CleanupInterval: time.Minute,
		IdleTimeout:     time.Hour,
		MaxConsumers:    defaultMaxConsumers,
	}
}

func TestInMemoryRateLimiter_GlobalLimit(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.GlobalRPS = 1
	cfg.GlobalBurst = 1

	rl := NewInMemoryRateLimiter(cfg)
	defer rl.Close()

	assert.True(t, rl.Allow("workflow-tracker"))
	assert.False(t, rl.Allow("workflow-tracker"))

	// The global bucket gates every tier.
	assert.False(t, rl.Allow(""))
}

func TestInMemoryRateLimiter_PerConsumerIsolation(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.ConsumerRPS = 1
	cfg.ConsumerBurst = 1

	rl := NewInMemoryRateLimiter(cfg)
	defer rl.Close()

	assert.True(t, rl.Allow("workflow-tracker"))
	assert.False(t, rl.Allow("workflow-tracker"))

	// A throttled consumer does not affect the others.
	assert.True(t, rl.Allow("test-sync"))
}

func TestInMemoryRateLimiter_UnauthenticatedTier(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.UnAuthRPS = 1
	cfg.UnAuthBurst = 1

	rl := NewInMemoryRateLimiter(cfg)
	defer rl.Close()

	assert.True(t, rl.Allow(""))
	assert.False(t, rl.Allow(""))

	// Authenticated traffic uses separate buckets.
	assert.True(t, rl.Allow("workflow-tracker"))
}

func TestInMemoryRateLimiter_MaxConsumersFallsBackToUnauthTier(t *testing.T) {
	cfg := testRateLimitConfig()
	cfg.MaxConsumers = 1
	cfg.UnAuthRPS = 1
	cfg.UnAuthBurst = 1

	rl := NewInMemoryRateLimiter(cfg)
	defer rl.Close()

	require.True(t, rl.Allow("workflow-tracker"))

	// Drain the shared unauthenticated bucket.
	require.True(t, rl.Allow(""))

	// The overflow consumer shares the unauthenticated bucket, now empty.
	assert.False(t, rl.Allow("test-sync"))
}

func TestInMemoryRateLimiter_CleanupRemovesIdleConsumers(t *testing.T) {
	rl := NewInMemoryRateLimiter(testRateLimitConfig())
	defer rl.Close()

	require.True(t, rl.Allow("workflow-tracker"))

	rl.mu.Lock()
	rl.perConsumer["workflow-tracker"].lastAccess = time.Now().Add(-2 * rl.idleTimeout)
	rl.mu.Unlock()

	rl.cleanupIdleConsumers()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.perConsumer)
}

func TestInMemoryRateLimiter_CloseIsSafeToCallTwice(t *testing.T) {
	rl := NewInMemoryRateLimiter(testRateLimitConfig())

	rl.Close()
	rl.Close()
}

// stubLimiter admits or rejects everything, for middleware tests.
type stubLimiter struct {
	allow bool
}

func (s *stubLimiter) Allow(_ string) bool { return s.allow }

func TestRateLimit_PassesAdmittedRequests(t *testing.T) {
	handler := RateLimit(&stubLimiter{allow: true}, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_RejectsThrottledRequests(t *testing.T) {
	handler := RateLimit(&stubLimiter{allow: false}, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not be reached when throttled")
		}))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRateLimit_PublicEndpointBypassesLimiter(t *testing.T) {
	RegisterPublicEndpoint("/ping-ratelimit-test")

	handler := RateLimit(&stubLimiter{allow: false}, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	r := httptest.NewRequest(http.MethodGet, "/ping-ratelimit-test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}
