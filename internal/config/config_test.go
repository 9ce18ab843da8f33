package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiroku-ai/kiroku/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	// Empty values read as unset, so this isolates the test from the
	// surrounding environment.
	for _, key := range []string{
		"KIROKU_PORT", "KIROKU_READ_TIMEOUT", "KIROKU_CACHE_BACKEND",
		"KIROKU_CACHE_TTL", "KIROKU_JWT_EXPIRATION", "KIROKU_RATE_LIMIT_PER_SECOND",
		"KIROKU_RATE_LIMIT_BURST", "KIROKU_MAX_REQUEST_BODY_BYTES", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, float64(50), cfg.RateLimitPerSecond)
	assert.Equal(t, 100, cfg.RateLimitBurst)
	assert.Equal(t, int64(1<<20), cfg.MaxRequestBodyBytes)
	assert.NotEmpty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KIROKU_PORT", "9090")
	t.Setenv("KIROKU_CACHE_TTL", "2m")
	t.Setenv("KIROKU_RATE_LIMIT_PER_SECOND", "12.5")
	t.Setenv("DATABASE_URL", "postgres://override:pw@db:5432/kiroku")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 12.5, cfg.RateLimitPerSecond)
	assert.Equal(t, "postgres://override:pw@db:5432/kiroku", cfg.DatabaseURL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("KIROKU_PORT", "not-a-number")
	t.Setenv("KIROKU_READ_TIMEOUT", "soon")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	valid := config.Config{
		DatabaseURL:         "postgres://x",
		CacheBackend:        "none",
		RateLimitPerSecond:  1,
		RateLimitBurst:      1,
		MaxRequestBodyBytes: 1,
	}
	assert.NoError(t, valid.Validate())

	t.Run("missing database url", func(t *testing.T) {
		c := valid
		c.DatabaseURL = ""
		assert.ErrorContains(t, c.Validate(), "DATABASE_URL")
	})

	t.Run("bad cache backend", func(t *testing.T) {
		c := valid
		c.CacheBackend = "memcached"
		assert.ErrorContains(t, c.Validate(), "KIROKU_CACHE_BACKEND")
	})

	t.Run("redis backend needs url", func(t *testing.T) {
		c := valid
		c.CacheBackend = "redis"
		assert.ErrorContains(t, c.Validate(), "KIROKU_REDIS_URL")

		c.RedisURL = "redis://localhost:6379/0"
		assert.NoError(t, c.Validate())
	})

	t.Run("nonpositive limits", func(t *testing.T) {
		c := valid
		c.RateLimitBurst = 0
		assert.ErrorContains(t, c.Validate(), "KIROKU_RATE_LIMIT_BURST")

		c = valid
		c.MaxRequestBodyBytes = 0
		assert.ErrorContains(t, c.Validate(), "KIROKU_MAX_REQUEST_BODY_BYTES")
	})
}
