package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// cachedPage is the serialized form of a list page stored in the read cache.
// Request metadata is never cached; it is stamped fresh on every response.
type cachedPage struct {
	Data       json.RawMessage `json:"data"`
	Total      *int            `json:"total,omitempty"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

// listCacheKey builds the cache key for a list request. Offset and cursor
// pages share the entity prefix so a single prefix invalidation clears both.
func listCacheKey(entity string, p listParams) string {
	if p.Cursor != "" {
		return fmt.Sprintf("%s:cursor:%d:%s", entity, p.Limit, p.Cursor)
	}
	return fmt.Sprintf("%s:list:%d:%d", entity, p.Limit, p.Offset)
}

// pageFromCache looks up a cached list page. A decode failure counts as a
// miss; the entry will be overwritten by the fresh result.
func (h *Handlers) pageFromCache(ctx context.Context, key string) (cachedPage, bool) {
	raw, ok := h.cache.Get(ctx, key)
	if !ok {
		return cachedPage{}, false
	}
	var page cachedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return cachedPage{}, false
	}
	return page, true
}

// storePage serializes a list page into the cache. Best-effort: a marshal
// failure is skipped silently and the page is simply not cached.
func (h *Handlers) storePage(ctx context.Context, key string, data any, total *int, nextCursor *string) {
	items, err := json.Marshal(data)
	if err != nil {
		return
	}
	raw, err := json.Marshal(cachedPage{Data: items, Total: total, NextCursor: nextCursor})
	if err != nil {
		return
	}
	h.cache.Set(ctx, key, raw)
}

// writeCachedPage writes a cache hit as a normal list response.
func writeCachedPage(w http.ResponseWriter, r *http.Request, page cachedPage, p listParams) {
	writeList(w, r, listResponseFor(page.Data, page.Total, page.NextCursor, p))
}

// listResponseFor assembles the list envelope minus meta, which writeList fills in.
func listResponseFor(data any, total *int, nextCursor *string, p listParams) model.ListResponse {
	return model.ListResponse{
		Data:       data,
		Total:      total,
		NextCursor: nextCursor,
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
}
