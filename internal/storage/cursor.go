package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// Cursor is the keyset position of the last item returned by a paginated
// listing: (created_at, id) under the listing order (created_at DESC, id
// DESC). Keyset pagination keeps already-issued pages stable under
// concurrent inserts — a newer row can never shift an older page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode serializes the cursor into an opaque token.
// Format before encoding: "<RFC3339Nano>|<id>", base64 URL-encoded.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor token. An unparseable token is a
// caller error, surfaced as a ValidationError rather than an internal one.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, &model.ValidationError{Field: "cursor", Message: "malformed cursor token"}
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, &model.ValidationError{Field: "cursor", Message: "malformed cursor token"}
	}

	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, &model.ValidationError{Field: "cursor", Message: fmt.Sprintf("invalid cursor timestamp %q", parts[0])}
	}

	return Cursor{CreatedAt: ts, ID: parts[1]}, nil
}

// clampLimit normalizes a caller-supplied page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
