package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/cache"
	"github.com/kiroku-ai/kiroku/internal/config"
	"github.com/kiroku-ai/kiroku/internal/mcp"
	"github.com/kiroku-ai/kiroku/internal/ratelimit"
	"github.com/kiroku-ai/kiroku/internal/server"
	"github.com/kiroku-ai/kiroku/internal/storage"
	"github.com/kiroku-ai/kiroku/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("KIROKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("kiroku starting", "version", version, "port", cfg.Port)

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Run embedded migrations. RunMigrations tracks applied files in
	// schema_migrations and skips duplicates, so errors here indicate real
	// failures (not "already exists").
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Create read cache.
	readCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = readCache.Close() }()

	// Create rate limiter.
	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()
	logger.Info("rate limiting: memory (in-process token bucket)",
		"per_second", cfg.RateLimitPerSecond, "burst", cfg.RateLimitBurst)

	// HMAC signature verifier, fed from KIROKU_AGENT_SECRET_* env vars.
	sigVerifier := auth.NewSignatureVerifier()
	if sigVerifier.HasSecrets() {
		logger.Info("signature auth: enabled")
	}

	// Create MCP server (mounted at /mcp).
	mcpSrv := mcp.New(db, version, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Cache:               readCache,
		Limiter:             limiter,
		SigVerifier:         sigVerifier,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Seed the bootstrap admin principal.
	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("kiroku shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("kiroku stopped")
	return nil
}

// newCache selects the read cache backend from configuration.
func newCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "redis":
		c, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("read cache: redis", "ttl", cfg.CacheTTL)
		return c, nil
	case "memory":
		logger.Info("read cache: memory", "ttl", cfg.CacheTTL)
		return cache.NewMemory(cfg.CacheTTL), nil
	default:
		logger.Info("read cache: disabled")
		return cache.Noop{}, nil
	}
}
