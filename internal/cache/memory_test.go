package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/cache"
)

func TestMemorySetGet(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	_, ok := c.Get(ctx, "thoughts:list:50:0")
	assert.False(t, ok)

	c.Set(ctx, "thoughts:list:50:0", []byte(`{"data":[]}`))

	got, ok := c.Get(ctx, "thoughts:list:50:0")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"data":[]}`), got)
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := cache.NewMemory(20 * time.Millisecond)
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	c.Set(ctx, "plans:list:50:0", []byte("v"))

	_, ok := c.Get(ctx, "plans:list:50:0")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get(ctx, "plans:list:50:0")
	assert.False(t, ok)
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	c.Set(ctx, "thoughts:list:50:0", []byte("a"))
	c.Set(ctx, "thoughts:cursor:50:abc", []byte("b"))
	c.Set(ctx, "plans:list:50:0", []byte("c"))

	c.Invalidate(ctx, "thoughts:")

	_, ok := c.Get(ctx, "thoughts:list:50:0")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "thoughts:cursor:50:abc")
	assert.False(t, ok)

	// Other prefixes survive.
	_, ok = c.Get(ctx, "plans:list:50:0")
	assert.True(t, ok)
}

func TestNoopCache(t *testing.T) {
	var c cache.Cache = cache.Noop{}
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	c.Invalidate(ctx, "k")
	assert.NoError(t, c.Close())
}
