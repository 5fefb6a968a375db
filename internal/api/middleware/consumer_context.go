package middleware

import (
	"context"
	"time"
)

// consumerContextKey is the context key for authenticated consumer information.
type consumerContextKey struct{}

// ConsumerContext contains authenticated consumer information added to the
// request context after successful API key validation. Consumers are the
// producing systems pushing events: the workflow tracker, the test-management
// sync job, the log shipper.
type ConsumerContext struct {
	// ConsumerID uniquely identifies the producing system.
	ConsumerID string

	// Name is the human-readable consumer name for logging and display.
	Name string

	// Permissions are the authorization scopes granted to this consumer.
	Permissions []string

	// KeyID is the API key ID used for authentication (audit logging).
	KeyID string

	// AuthTime is when authentication occurred.
	AuthTime time.Time
}

// GetConsumerContext extracts consumer context from the request context.
// Returns (context, true) if authenticated, (empty, false) otherwise.
func GetConsumerContext(ctx context.Context) (ConsumerContext, bool) {
	consumerCtx, ok := ctx.Value(consumerContextKey{}).(ConsumerContext)

	return consumerCtx, ok
}

// SetConsumerContext attaches consumer context to the request context.
func SetConsumerContext(ctx context.Context, consumerCtx ConsumerContext) context.Context {
	return context.WithValue(ctx, consumerContextKey{}, consumerCtx)
}
