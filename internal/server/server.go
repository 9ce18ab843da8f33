package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/cache"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/ratelimit"
	"github.com/kiroku-ai/kiroku/internal/storage"
)

// Server is the Kiroku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Cache, Limiter, SigVerifier, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB     *storage.DB
	JWTMgr *auth.JWTManager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Cache       cache.Cache
	Limiter     ratelimit.Limiter
	SigVerifier *auth.SignatureVerifier
	MCPServer   *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Cache:               cfg.Cache,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Authenticated traffic is limited per agent; admins are exempt.
	// The unauthenticated token endpoint is limited per client IP.
	agentRL := ratelimit.Middleware(limiter, agentKeyFunc, reqIDFunc, cfg.Logger)
	authRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc(), reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Token exchange (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	anyRole := requireRole(model.RoleAdmin, model.RoleAgent)

	// Writes pass the auth gate plus the per-agent rate limit; reads are
	// open and unwrapped.
	// Thoughts.
	mux.Handle("POST /v1/thoughts", agentRL(anyRole(http.HandlerFunc(h.HandleCreateThought))))
	mux.Handle("POST /v1/thoughts/bulk", agentRL(anyRole(http.HandlerFunc(h.HandleBulkCreateThoughts))))
	mux.HandleFunc("GET /v1/thoughts", h.HandleListThoughts)
	mux.HandleFunc("GET /v1/thoughts/{thought_id}", h.HandleGetThought)

	// Thought-plan associations (idempotent both ways).
	mux.Handle("PUT /v1/thoughts/{thought_id}/plans/{plan_id}", agentRL(anyRole(http.HandlerFunc(h.HandleAssociateThoughtPlan))))
	mux.Handle("DELETE /v1/thoughts/{thought_id}/plans/{plan_id}", agentRL(anyRole(http.HandlerFunc(h.HandleDisassociateThoughtPlan))))

	// Plans.
	mux.Handle("POST /v1/plans", agentRL(anyRole(http.HandlerFunc(h.HandleCreatePlan))))
	mux.Handle("POST /v1/plans/bulk", agentRL(anyRole(http.HandlerFunc(h.HandleBulkCreatePlans))))
	mux.HandleFunc("GET /v1/plans", h.HandleListPlans)
	mux.HandleFunc("GET /v1/plans/{plan_id}", h.HandleGetPlan)
	mux.Handle("PATCH /v1/plans/{plan_id}/status", agentRL(anyRole(http.HandlerFunc(h.HandleUpdatePlanStatus))))
	mux.HandleFunc("GET /v1/plans/{plan_id}/status-events", h.HandleListPlanStatusEvents)

	// Changelog.
	mux.Handle("POST /v1/changelog", agentRL(anyRole(http.HandlerFunc(h.HandleCreateChange))))
	mux.Handle("POST /v1/changelog/bulk", agentRL(anyRole(http.HandlerFunc(h.HandleBulkCreateChanges))))
	mux.HandleFunc("GET /v1/changelog", h.HandleListChanges)
	mux.HandleFunc("GET /v1/changelog/{change_id}", h.HandleGetChange)

	// Principal and key management (admin-only, no rate limit — admin is
	// exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/principals", adminOnly(http.HandlerFunc(h.HandleCreatePrincipal)))
	mux.Handle("GET /v1/principals", adminOnly(http.HandlerFunc(h.HandleListPrincipals)))
	mux.Handle("DELETE /v1/keys/{key_id}", adminOnly(http.HandlerFunc(h.HandleRevokeAPIKey)))

	// Destructive admin surface.
	mux.Handle("DELETE /v1/admin/purge", adminOnly(http.HandlerFunc(h.HandlePurge)))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", anyRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Authentication chain: context (internal transports) first, then API
	// key, bearer token, and request signature. Order matters only for
	// which credential wins when several are presented.
	authenticators := []auth.Authenticator{
		auth.ContextAuthenticator{},
		auth.APIKeyAuthenticator{Store: cfg.DB},
		auth.BearerAuthenticator{JWT: cfg.JWTMgr},
	}
	if cfg.SigVerifier != nil && cfg.SigVerifier.HasSecrets() {
		authenticators = append(authenticators, auth.SignatureAuthenticator{
			Verifier: cfg.SigVerifier,
			Store:    cfg.DB,
		})
	}
	chain := auth.NewChain(authenticators...)

	// Middleware chain (outermost executes first):
	// request ID → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authGateMiddleware(chain, cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// agentKeyFunc extracts the agent ID from the request context for rate
// limiting. Returns empty string for admins (exempt from rate limits).
func agentKeyFunc(r *http.Request) string {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		return ""
	}
	if p.Role == model.RoleAdmin {
		return ""
	}
	return p.AgentID
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
