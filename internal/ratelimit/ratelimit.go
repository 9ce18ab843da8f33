// Package ratelimit provides a pluggable rate limiting interface with an
// in-memory token bucket implementation and HTTP middleware over it.
package ratelimit

import "context"

// Limiter decides whether a request identified by an opaque key may proceed.
// Implementations must be safe for concurrent use. An error means the
// limiter itself failed; callers fail open on errors rather than blocking
// traffic.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (sweeper goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                { return nil }
