package out

import "context"

// RateLimiter throttles attempts per key, typically "login:<ip>".
type RateLimiter interface {
	// Allow reports whether one more attempt for key is allowed now.
	Allow(ctx context.Context, key string) bool

	// Reset forgets the history of key, e.g. after a successful login.
	Reset(ctx context.Context, key string)
}
