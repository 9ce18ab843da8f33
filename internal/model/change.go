package model

import (
	"fmt"
	"time"
)

// Change records concrete work done against exactly one plan, optionally
// citing the thoughts that motivated it. Immutable once created.
type Change struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	PlanID      string    `json:"plan_id"`
	ThoughtIDs  []string  `json:"thought_ids"`
	AgentID     string    `json:"agent_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateChangeRequest is the input for logging a change.
type CreateChangeRequest struct {
	Description string   `json:"description"`
	PlanID      string   `json:"plan_id"`
	ThoughtIDs  []string `json:"thought_ids"`
	AgentID     string   `json:"-"`
}

// Validate checks required fields. Existence of plan_id and thought_ids is
// checked by the storage layer inside the creation transaction.
func (r CreateChangeRequest) Validate() error {
	if r.Description == "" {
		return &ValidationError{Field: "description", Message: "description must not be empty"}
	}
	if len(r.Description) > MaxContentLen {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("description exceeds maximum length of %d bytes", MaxContentLen)}
	}
	if r.PlanID == "" {
		return &ValidationError{Field: "plan_id", Message: "plan_id is required"}
	}
	seen := make(map[string]bool, len(r.ThoughtIDs))
	for _, id := range r.ThoughtIDs {
		if id == "" {
			return &ValidationError{Field: "thought_ids", Message: "thought id must not be empty"}
		}
		if seen[id] {
			return &ValidationError{Field: "thought_ids", Message: fmt.Sprintf("duplicate thought %s", id)}
		}
		seen[id] = true
	}
	return nil
}
