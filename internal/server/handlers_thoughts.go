package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/model"
)

// HandleCreateThought handles POST /v1/thoughts.
func (h *Handlers) HandleCreateThought(w http.ResponseWriter, r *http.Request) {
	var req model.CreateThoughtRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.AgentID = auth.PrincipalFromContext(r.Context()).AgentID

	if err := req.Validate(); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	thought, err := h.db.CreateThought(r.Context(), req)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "thoughts:")
	writeJSON(w, r, http.StatusCreated, thought)
}

// HandleBulkCreateThoughts handles POST /v1/thoughts/bulk. The batch is
// all-or-nothing: one bad item rejects the whole request with per-item errors.
func (h *Handlers) HandleBulkCreateThoughts(w http.ResponseWriter, r *http.Request) {
	var req model.BulkCreateThoughtsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Thoughts) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "thoughts must not be empty")
		return
	}

	agentID := auth.PrincipalFromContext(r.Context()).AgentID
	for i := range req.Thoughts {
		req.Thoughts[i].AgentID = agentID
	}

	created, itemErrs, err := h.db.BulkCreateThoughts(r.Context(), req.Thoughts)
	if err != nil {
		if len(itemErrs) > 0 {
			writeBulkErrors(w, r, itemErrs)
			return
		}
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "thoughts:")
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleGetThought handles GET /v1/thoughts/{thought_id}.
func (h *Handlers) HandleGetThought(w http.ResponseWriter, r *http.Request) {
	thought, err := h.db.GetThoughtByID(r.Context(), r.PathValue("thought_id"))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, thought)
}

// HandleListThoughts handles GET /v1/thoughts. Supports offset pagination
// (limit+offset, returns total) and cursor pagination (cursor, returns
// next_cursor); the two modes are mutually exclusive.
func (h *Handlers) HandleListThoughts(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	key := listCacheKey("thoughts", params)
	if page, ok := h.pageFromCache(r.Context(), key); ok {
		writeCachedPage(w, r, page, params)
		return
	}

	if params.Cursor != "" {
		thoughts, nextCursor, err := h.db.ListThoughtsCursor(r.Context(), params.Limit, params.Cursor)
		if err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		h.storePage(r.Context(), key, thoughts, nil, nextCursor)
		writeList(w, r, listResponseFor(thoughts, nil, nextCursor, params))
		return
	}

	thoughts, total, err := h.db.ListThoughts(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.storePage(r.Context(), key, thoughts, &total, nil)
	writeList(w, r, listResponseFor(thoughts, &total, nil, params))
}

// HandleAssociateThoughtPlan handles PUT /v1/thoughts/{thought_id}/plans/{plan_id}.
// Idempotent: associating an existing pair succeeds without change.
func (h *Handlers) HandleAssociateThoughtPlan(w http.ResponseWriter, r *http.Request) {
	thoughtID := r.PathValue("thought_id")
	planID := r.PathValue("plan_id")

	if err := h.db.AssociateThoughtPlan(r.Context(), thoughtID, planID); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "thoughts:")
	h.cache.Invalidate(r.Context(), "plans:")
	writeJSON(w, r, http.StatusOK, map[string]string{
		"thought_id": thoughtID,
		"plan_id":    planID,
		"status":     "associated",
	})
}

// HandleDisassociateThoughtPlan handles DELETE /v1/thoughts/{thought_id}/plans/{plan_id}.
// Idempotent: removing a non-existent association succeeds.
func (h *Handlers) HandleDisassociateThoughtPlan(w http.ResponseWriter, r *http.Request) {
	thoughtID := r.PathValue("thought_id")
	planID := r.PathValue("plan_id")

	if err := h.db.DisassociateThoughtPlan(r.Context(), thoughtID, planID); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "thoughts:")
	h.cache.Invalidate(r.Context(), "plans:")
	writeJSON(w, r, http.StatusOK, map[string]string{
		"thought_id": thoughtID,
		"plan_id":    planID,
		"status":     "disassociated",
	})
}

// writeBulkErrors writes a 400 whose details carry the per-item failures of
// an atomic bulk request. No items were created.
func writeBulkErrors(w http.ResponseWriter, r *http.Request, itemErrs []model.BulkError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeInvalidInput,
			Message: "batch rejected, no items were created",
			Details: itemErrs,
		},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}
