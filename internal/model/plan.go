package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanStatus represents the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusTodo       PlanStatus = "todo"
	PlanStatusInProgress PlanStatus = "in-progress"
	PlanStatusBlocked    PlanStatus = "blocked"
	PlanStatusDone       PlanStatus = "done"
)

// ValidPlanStatus reports whether s is one of the defined statuses.
func ValidPlanStatus(s PlanStatus) bool {
	switch s {
	case PlanStatusTodo, PlanStatusInProgress, PlanStatusBlocked, PlanStatusDone:
		return true
	}
	return false
}

// Plan is a unit of work with a status and zero or more dependency plans.
// Dependencies live in the plan_dependencies join table; every dependency
// must exist when the plan is created and a plan never depends on itself.
type Plan struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       PlanStatus `json:"status"`
	Dependencies []string   `json:"dependencies"`
	ThoughtIDs   []string   `json:"thought_ids"` // associated thoughts via thought_plans
	AgentID      string     `json:"agent_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PlanStatusEvent records a single status transition on a plan.
// Append-only: the plans.status column is the materialized current value,
// the event rows are the history.
type PlanStatusEvent struct {
	ID        uuid.UUID  `json:"id"`
	PlanID    string     `json:"plan_id"`
	OldStatus PlanStatus `json:"old_status"`
	NewStatus PlanStatus `json:"new_status"`
	AgentID   string     `json:"agent_id"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreatePlanRequest is the input for creating a plan.
type CreatePlanRequest struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       PlanStatus `json:"status"`
	Dependencies []string   `json:"dependencies"`
	AgentID      string     `json:"-"`
}

// Validate checks required fields, the status enum, and self-dependencies.
// Existence of dependency IDs is checked by the storage layer inside the
// creation transaction.
func (r CreatePlanRequest) Validate() error {
	if r.Description == "" {
		return &ValidationError{Field: "description", Message: "description must not be empty"}
	}
	if len(r.Description) > MaxContentLen {
		return &ValidationError{Field: "description", Message: fmt.Sprintf("description exceeds maximum length of %d bytes", MaxContentLen)}
	}
	if r.Status != "" && !ValidPlanStatus(r.Status) {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid status %q", r.Status)}
	}
	seen := make(map[string]bool, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		if dep == "" {
			return &ValidationError{Field: "dependencies", Message: "dependency id must not be empty"}
		}
		if seen[dep] {
			return &ValidationError{Field: "dependencies", Message: fmt.Sprintf("duplicate dependency %s", dep)}
		}
		seen[dep] = true
	}
	return nil
}

// UpdatePlanStatusRequest is the input for a plan status transition.
type UpdatePlanStatusRequest struct {
	Status  PlanStatus `json:"status"`
	AgentID string     `json:"-"`
}

// Validate checks the status enum.
func (r UpdatePlanStatusRequest) Validate() error {
	if !ValidPlanStatus(r.Status) {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid status %q", r.Status)}
	}
	return nil
}
