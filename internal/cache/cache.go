// Package cache provides the optional read cache for list endpoints.
//
// The cache is purely a latency optimization with bounded staleness: entries
// carry the configured TTL and every write to an entity type eagerly
// invalidates that type's key prefix. Nothing correctness-bearing reads
// through it, and tests run with Noop.
package cache

import "context"

// Cache stores serialized responses keyed by query shape
// (e.g. "thoughts:list:50:0"). Implementations must be safe for concurrent
// use. All operations are best-effort: a failing backend degrades to
// uncached reads, never to an error surfaced to the caller.
type Cache interface {
	// Get returns the cached value and true on a fresh hit.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value under the configured TTL.
	Set(ctx context.Context, key string, value []byte)

	// Invalidate drops every entry whose key starts with prefix.
	Invalidate(ctx context.Context, prefix string)

	// Close releases resources (eviction goroutines, connections).
	Close() error
}

// Noop caches nothing. Used when caching is disabled and in tests.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }

// Set is a no-op.
func (Noop) Set(context.Context, string, []byte) {}

// Invalidate is a no-op.
func (Noop) Invalidate(context.Context, string) {}

// Close is a no-op.
func (Noop) Close() error { return nil }
