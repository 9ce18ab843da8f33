// Package model defines the core domain types for kiroku.
//
// Types correspond directly to database tables and API payloads. Entity IDs
// are server-generated opaque strings with a type prefix (th_, pl_, cl_)
// followed by a UUID. Records are append-only: nothing is mutated after
// creation except the status column on plans, and every status transition
// is itself recorded as a PlanStatusEvent.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID prefixes per entity type.
const (
	ThoughtIDPrefix = "th_"
	PlanIDPrefix    = "pl_"
	ChangeIDPrefix  = "cl_"
)

// NewThoughtID generates a new thought ID.
func NewThoughtID() string { return ThoughtIDPrefix + uuid.New().String() }

// NewPlanID generates a new plan ID.
func NewPlanID() string { return PlanIDPrefix + uuid.New().String() }

// NewChangeID generates a new change ID.
func NewChangeID() string { return ChangeIDPrefix + uuid.New().String() }

// MaxContentLen caps free-text fields (content, description, reasoning-style
// notes) to keep caller-controlled input out of pathological territory.
const MaxContentLen = 64 * 1024 // 64 KB

// Thought is a free-text note recorded by an agent. Immutable once created.
// PlanID is an optional direct link to one plan; richer many-to-many
// associations go through the thought_plans join table.
type Thought struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	PlanID      *string   `json:"plan_id,omitempty"`
	Uncertainty bool      `json:"uncertainty"`
	AgentID     string    `json:"agent_id"`
	PlanIDs     []string  `json:"plan_ids"` // associated plans via thought_plans
	CreatedAt   time.Time `json:"created_at"`
}

// CreateThoughtRequest is the input for creating a thought.
type CreateThoughtRequest struct {
	Content     string  `json:"content"`
	PlanID      *string `json:"plan_id,omitempty"`
	Uncertainty bool    `json:"uncertainty"`
	AgentID     string  `json:"-"` // set from the authenticated principal
}

// Validate checks required fields and length limits.
func (r CreateThoughtRequest) Validate() error {
	if r.Content == "" {
		return &ValidationError{Field: "content", Message: "content must not be empty"}
	}
	if len(r.Content) > MaxContentLen {
		return &ValidationError{Field: "content", Message: fmt.Sprintf("content exceeds maximum length of %d bytes", MaxContentLen)}
	}
	return nil
}
