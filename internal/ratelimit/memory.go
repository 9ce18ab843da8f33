package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	sweepInterval = time.Minute
	idleEviction  = 10 * time.Minute
)

// entry tracks the bucket state for one key. tokens is refilled lazily on
// access from the time elapsed since seen.
type entry struct {
	tokens float64
	seen   time.Time
}

func (e *entry) take(now time.Time, rate, burst float64) bool {
	e.tokens += now.Sub(e.seen).Seconds() * rate
	if e.tokens > burst {
		e.tokens = burst
	}
	e.seen = now

	if e.tokens < 1 {
		return false
	}
	e.tokens--
	return true
}

// MemoryLimiter is a per-key token bucket held in process memory. Suitable
// for a single instance; multi-instance deployments want a shared backend
// behind the same Limiter interface.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	entries map[string]*entry

	closeOnce sync.Once
	stop      chan struct{}
}

// NewMemoryLimiter returns a limiter allowing a sustained rate of requests
// per second per key, with the given burst capacity. A sweeper goroutine
// drops keys idle for more than ten minutes; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	l := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether the request identified by key may proceed, consuming
// one token if so. A key's first request sees a full bucket.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{tokens: l.burst, seen: now}
		l.entries[key] = e
	}
	return e.take(now, l.rate, l.burst), nil
}

// Close stops the sweeper. Safe to call more than once.
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, e := range l.entries {
				if now.Sub(e.seen) > idleEviction {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
