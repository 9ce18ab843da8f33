package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/ratelimit"
)

func TestMemoryLimiterBurst(t *testing.T) {
	// High refill rate irrelevant here; burst of 3 means the 4th immediate
	// request is rejected.
	m := ratelimit.NewMemoryLimiter(0.0001, 3)
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "agent-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}

	ok, err := m.Allow(ctx, "agent-a")
	require.NoError(t, err)
	assert.False(t, ok, "request over burst")
}

func TestMemoryLimiterPerKey(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(0.0001, 1)
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "agent-a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "agent-a")
	assert.False(t, ok)

	// Exhausting one key leaves others untouched.
	ok, _ = m.Allow(ctx, "agent-b")
	assert.True(t, ok)
}

func TestNoopLimiter(t *testing.T) {
	var l ratelimit.Limiter = ratelimit.NoopLimiter{}
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), "anyone")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.NoError(t, l.Close())
}

func TestMemoryLimiterCloseTwice(t *testing.T) {
	m := ratelimit.NewMemoryLimiter(1, 1)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
