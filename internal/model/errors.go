package model

import (
	"fmt"
	"strings"
)

// ValidationError describes rejected input: an empty required field, a
// referenced ID that does not exist, a malformed cursor, or an invalid enum
// value. MissingIDs is populated when referential checks fail so callers can
// see exactly which references were bad.
type ValidationError struct {
	Field      string
	Message    string
	MissingIDs []string
}

func (e *ValidationError) Error() string {
	if len(e.MissingIDs) > 0 {
		return fmt.Sprintf("%s: unknown id(s): %s", e.Field, strings.Join(e.MissingIDs, ", "))
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// NewMissingIDsError builds a ValidationError for unresolved references.
func NewMissingIDsError(field string, ids []string) *ValidationError {
	return &ValidationError{Field: field, MissingIDs: ids}
}
