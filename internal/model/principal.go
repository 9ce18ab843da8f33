package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrincipalRole represents the role assigned to a principal.
type PrincipalRole string

const (
	RoleAdmin PrincipalRole = "admin"
	RoleAgent PrincipalRole = "agent"
)

// Principal is an authenticated identity (user or agent) attributed to writes.
type Principal struct {
	ID          uuid.UUID     `json:"id"`
	AgentID     string        `json:"agent_id"`
	DisplayName string        `json:"display_name"`
	Role        PrincipalRole `json:"role"`
	CreatedAt   time.Time     `json:"created_at"`
}

// APIKey is a managed credential for a principal. The plaintext key is shown
// once at creation; only the Argon2id hash is stored.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	AgentID   string     `json:"agent_id"`
	KeyHash   string     `json:"-"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
