package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/model"
)

// HandleCreatePrincipal handles POST /v1/principals (admin-only). Generates
// the principal's first API key and returns the plaintext exactly once.
func (h *Handlers) HandleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePrincipalRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleAgent
	}
	if role != model.RoleAdmin && role != model.RoleAgent {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "role must be admin or agent")
		return
	}

	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		h.writeInternalError(w, r, "failed to generate api key", err)
		return
	}
	hash, err := auth.HashAPIKey(plaintext)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	principal, key, err := h.db.CreatePrincipalWithKey(r.Context(),
		model.Principal{AgentID: req.AgentID, DisplayName: req.DisplayName, Role: role},
		model.APIKey{AgentID: req.AgentID, KeyHash: hash, Label: "initial"},
	)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Info("principal created",
		"agent_id", principal.AgentID,
		"role", principal.Role,
		"created_by", auth.PrincipalFromContext(r.Context()).AgentID,
	)

	writeJSON(w, r, http.StatusCreated, model.CreatePrincipalResponse{
		Principal: principal,
		APIKeyID:  key.ID,
		APIKey:    plaintext,
	})
}

// HandleListPrincipals handles GET /v1/principals (admin-only).
func (h *Handlers) HandleListPrincipals(w http.ResponseWriter, r *http.Request) {
	principals, err := h.db.ListPrincipals(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, principals)
}

// HandleRevokeAPIKey handles DELETE /v1/keys/{key_id} (admin-only). The key
// stops working immediately; tokens already issued with it live out their
// expiry.
func (h *Handlers) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(r.PathValue("key_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid key id")
		return
	}

	if err := h.db.RevokeAPIKey(r.Context(), keyID); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Info("api key revoked",
		"key_id", keyID,
		"revoked_by", auth.PrincipalFromContext(r.Context()).AgentID,
	)

	w.WriteHeader(http.StatusNoContent)
}

// HandlePurge handles DELETE /v1/admin/purge (admin-only). Deletes every
// thought, plan, and change. Principals and API keys survive.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PurgeAll(r.Context()); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "thoughts:")
	h.cache.Invalidate(r.Context(), "plans:")
	h.cache.Invalidate(r.Context(), "changelog:")

	h.logger.Warn("all records purged",
		"purged_by", auth.PrincipalFromContext(r.Context()).AgentID,
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "purged"})
}
