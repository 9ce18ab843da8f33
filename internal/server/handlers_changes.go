package server

import (
	"net/http"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/model"
)

// HandleCreateChange handles POST /v1/changelog. Every change must cite the
// plan it executed; thought citations are optional.
func (h *Handlers) HandleCreateChange(w http.ResponseWriter, r *http.Request) {
	var req model.CreateChangeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.AgentID = auth.PrincipalFromContext(r.Context()).AgentID

	if err := req.Validate(); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	change, err := h.db.CreateChange(r.Context(), req)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "changelog:")
	writeJSON(w, r, http.StatusCreated, change)
}

// HandleBulkCreateChanges handles POST /v1/changelog/bulk.
func (h *Handlers) HandleBulkCreateChanges(w http.ResponseWriter, r *http.Request) {
	var req model.BulkCreateChangesRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Changes) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "changes must not be empty")
		return
	}

	agentID := auth.PrincipalFromContext(r.Context()).AgentID
	for i := range req.Changes {
		req.Changes[i].AgentID = agentID
	}

	created, itemErrs, err := h.db.BulkCreateChanges(r.Context(), req.Changes)
	if err != nil {
		if len(itemErrs) > 0 {
			writeBulkErrors(w, r, itemErrs)
			return
		}
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "changelog:")
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleGetChange handles GET /v1/changelog/{change_id}.
func (h *Handlers) HandleGetChange(w http.ResponseWriter, r *http.Request) {
	change, err := h.db.GetChangeByID(r.Context(), r.PathValue("change_id"))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, change)
}

// HandleListChanges handles GET /v1/changelog.
func (h *Handlers) HandleListChanges(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	key := listCacheKey("changelog", params)
	if page, ok := h.pageFromCache(r.Context(), key); ok {
		writeCachedPage(w, r, page, params)
		return
	}

	if params.Cursor != "" {
		changes, nextCursor, err := h.db.ListChangesCursor(r.Context(), params.Limit, params.Cursor)
		if err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		h.storePage(r.Context(), key, changes, nil, nextCursor)
		writeList(w, r, listResponseFor(changes, nil, nextCursor, params))
		return
	}

	changes, total, err := h.db.ListChanges(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.storePage(r.Context(), key, changes, &total, nil)
	writeList(w, r, listResponseFor(changes, &total, nil, params))
}
