package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/cache"
	"github.com/kiroku-ai/kiroku/internal/model"
	"github.com/kiroku-ai/kiroku/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	cache               cache.Cache
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Cache may be nil; a no-op cache is substituted.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	Cache               cache.Cache
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	c := d.Cache
	if c == nil {
		c = cache.Noop{}
	}
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		cache:               c,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token. Exchanges an agent_id + API key
// pair for a short-lived bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AgentID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_id and api_key are required")
		return
	}

	keys, err := h.db.GetActiveAPIKeysByAgentID(r.Context(), req.AgentID)
	if err != nil {
		h.writeInternalError(w, r, "failed to look up api keys", err)
		return
	}
	if len(keys) == 0 {
		// Burn the same time as a real verification so agent existence
		// can't be probed through response timing.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	var matched bool
	for _, k := range keys {
		valid, verr := auth.VerifyAPIKey(req.APIKey, k.KeyHash)
		if verr == nil && valid {
			matched = true
			break
		}
	}
	if !matched {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	principal, err := h.db.GetPrincipalByAgentID(r.Context(), req.AgentID)
	if err != nil {
		h.writeInternalError(w, r, "failed to look up principal", err)
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(principal)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	h.logger.Info("token issued",
		"agent_id", principal.AgentID,
		"expires_at", expiresAt,
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"version":        h.version,
		"postgres":       pgStatus,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// SeedAdmin creates the bootstrap admin principal if no principals exist.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	existing, err := h.db.ListPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: list principals: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if adminAPIKey == "" {
		return fmt.Errorf("seed admin: KIROKU_ADMIN_API_KEY is empty and no principals exist; set it to bootstrap initial admin access")
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash api key: %w", err)
	}
	_, _, err = h.db.CreatePrincipalWithKey(ctx,
		model.Principal{AgentID: "admin", DisplayName: "Bootstrap Admin", Role: model.RoleAdmin},
		model.APIKey{AgentID: "admin", KeyHash: hash, Label: "bootstrap"},
	)
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("seed admin: create principal: %w", err)
	}
	if err == nil {
		h.logger.Info("bootstrap admin principal created", "agent_id", "admin")
	}
	return nil
}

// listParams holds the parsed pagination parameters of a list request.
type listParams struct {
	Limit  int
	Offset int
	Cursor string
}

// parseListParams reads limit, offset, and cursor query parameters.
// Cursor and offset are mutually exclusive.
func parseListParams(r *http.Request) (listParams, error) {
	p := listParams{Limit: 50}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, &model.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, &model.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		p.Offset = n
	}
	p.Cursor = q.Get("cursor")
	if p.Cursor != "" && p.Offset > 0 {
		return p, &model.ValidationError{Field: "cursor", Message: "cursor and offset cannot be combined"}
	}
	return p, nil
}
