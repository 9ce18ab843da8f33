package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// KeyFunc extracts the rate-limit key from a request (e.g. agent ID or
// client IP).
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from a request for inclusion in
// rate-limit error responses.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces the given limiter.
// Requests over the limit receive a 429 with the standard error envelope.
// Limiter errors fail open: the request proceeds and the error is logged.
func Middleware(limiter Limiter, keyFn KeyFunc, requestIDFn RequestIDFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter error, failing open", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Info("rate limit exceeded", "key", key, "path", r.URL.Path)
				writeRateLimited(w, requestIDFn(r))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc returns a KeyFunc that keys on the client IP address.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

func writeRateLimited(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	resp := model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "rate limit exceeded, slow down",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}
