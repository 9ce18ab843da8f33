package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
// NextCursor is set only on cursor-paginated requests; Total only on
// offset-paginated ones.
type ListResponse struct {
	Data       any          `json:"data"`
	Total      *int         `json:"total,omitempty"`
	NextCursor *string      `json:"next_cursor,omitempty"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
	Meta       ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreatePrincipalRequest is the request body for POST /v1/principals.
type CreatePrincipalRequest struct {
	AgentID     string        `json:"agent_id"`
	DisplayName string        `json:"display_name"`
	Role        PrincipalRole `json:"role"`
}

// CreatePrincipalResponse returns the new principal together with its
// one-time plaintext API key.
type CreatePrincipalResponse struct {
	Principal Principal `json:"principal"`
	APIKeyID  uuid.UUID `json:"api_key_id"`
	APIKey    string    `json:"api_key"` // shown once, never stored
}

// BulkError reports a per-item failure inside an atomic bulk request.
// Index is the position of the offending item in the submitted batch.
type BulkError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BulkCreateThoughtsRequest is the request body for POST /v1/thoughts/bulk.
type BulkCreateThoughtsRequest struct {
	Thoughts []CreateThoughtRequest `json:"thoughts"`
}

// BulkCreatePlansRequest is the request body for POST /v1/plans/bulk.
type BulkCreatePlansRequest struct {
	Plans []CreatePlanRequest `json:"plans"`
}

// BulkCreateChangesRequest is the request body for POST /v1/changelog/bulk.
type BulkCreateChangesRequest struct {
	Changes []CreateChangeRequest `json:"changes"`
}
