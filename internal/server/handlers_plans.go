package server

import (
	"net/http"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/model"
)

// HandleCreatePlan handles POST /v1/plans.
func (h *Handlers) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePlanRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.AgentID = auth.PrincipalFromContext(r.Context()).AgentID

	if err := req.Validate(); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	plan, err := h.db.CreatePlan(r.Context(), req)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "plans:")
	writeJSON(w, r, http.StatusCreated, plan)
}

// HandleBulkCreatePlans handles POST /v1/plans/bulk.
func (h *Handlers) HandleBulkCreatePlans(w http.ResponseWriter, r *http.Request) {
	var req model.BulkCreatePlansRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Plans) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "plans must not be empty")
		return
	}

	agentID := auth.PrincipalFromContext(r.Context()).AgentID
	for i := range req.Plans {
		req.Plans[i].AgentID = agentID
	}

	created, itemErrs, err := h.db.BulkCreatePlans(r.Context(), req.Plans)
	if err != nil {
		if len(itemErrs) > 0 {
			writeBulkErrors(w, r, itemErrs)
			return
		}
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "plans:")
	writeJSON(w, r, http.StatusCreated, created)
}

// HandleGetPlan handles GET /v1/plans/{plan_id}.
func (h *Handlers) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.db.GetPlanByID(r.Context(), r.PathValue("plan_id"))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, plan)
}

// HandleListPlans handles GET /v1/plans.
func (h *Handlers) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	key := listCacheKey("plans", params)
	if page, ok := h.pageFromCache(r.Context(), key); ok {
		writeCachedPage(w, r, page, params)
		return
	}

	if params.Cursor != "" {
		plans, nextCursor, err := h.db.ListPlansCursor(r.Context(), params.Limit, params.Cursor)
		if err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		h.storePage(r.Context(), key, plans, nil, nextCursor)
		writeList(w, r, listResponseFor(plans, nil, nextCursor, params))
		return
	}

	plans, total, err := h.db.ListPlans(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.storePage(r.Context(), key, plans, &total, nil)
	writeList(w, r, listResponseFor(plans, &total, nil, params))
}

// HandleUpdatePlanStatus handles PATCH /v1/plans/{plan_id}/status. The only
// mutation plans support: each transition is appended to the status history.
func (h *Handlers) HandleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	var req model.UpdatePlanStatusRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.AgentID = auth.PrincipalFromContext(r.Context()).AgentID

	if err := req.Validate(); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	plan, err := h.db.UpdatePlanStatus(r.Context(), r.PathValue("plan_id"), req)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.cache.Invalidate(r.Context(), "plans:")
	writeJSON(w, r, http.StatusOK, plan)
}

// HandleListPlanStatusEvents handles GET /v1/plans/{plan_id}/status-events.
func (h *Handlers) HandleListPlanStatusEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.db.ListPlanStatusEvents(r.Context(), r.PathValue("plan_id"))
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, events)
}
