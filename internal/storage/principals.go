package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// CreatePrincipalWithKey inserts a principal and its first API key
// atomically within a single transaction.
func (db *DB) CreatePrincipalWithKey(ctx context.Context, p model.Principal, key model.APIKey) (model.Principal, model.APIKey, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Principal{}, model.APIKey{}, fmt.Errorf("storage: begin create principal tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Role == "" {
		p.Role = model.RoleAgent
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO principals (id, agent_id, display_name, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.AgentID, p.DisplayName, string(p.Role), p.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return model.Principal{}, model.APIKey{}, ErrConflict
		}
		return model.Principal{}, model.APIKey{}, fmt.Errorf("storage: create principal: %w", err)
	}

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	key.AgentID = p.AgentID

	_, err = tx.Exec(ctx,
		`INSERT INTO api_keys (id, agent_id, key_hash, label, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.AgentID, key.KeyHash, key.Label, key.CreatedAt,
	)
	if err != nil {
		return model.Principal{}, model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Principal{}, model.APIKey{}, fmt.Errorf("storage: commit create principal tx: %w", err)
	}
	return p, key, nil
}

// GetPrincipalByAgentID retrieves a principal by its agent_id.
// Returns ErrNotFound if no such principal exists.
func (db *DB) GetPrincipalByAgentID(ctx context.Context, agentID string) (model.Principal, error) {
	var p model.Principal
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_id, display_name, role, created_at
		 FROM principals WHERE agent_id = $1`, agentID,
	).Scan(&p.ID, &p.AgentID, &p.DisplayName, &p.Role, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Principal{}, fmt.Errorf("storage: principal %s: %w", agentID, ErrNotFound)
		}
		return model.Principal{}, fmt.Errorf("storage: get principal: %w", err)
	}
	return p, nil
}

// ListPrincipals returns all principals ordered by creation time.
func (db *DB) ListPrincipals(ctx context.Context) ([]model.Principal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, display_name, role, created_at
		 FROM principals ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list principals: %w", err)
	}
	defer rows.Close()

	var principals []model.Principal
	for rows.Next() {
		var p model.Principal
		if err := rows.Scan(&p.ID, &p.AgentID, &p.DisplayName, &p.Role, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan principal: %w", err)
		}
		principals = append(principals, p)
	}
	return principals, rows.Err()
}

// GetActiveAPIKeysByAgentID returns the non-revoked API keys for an agent,
// oldest first. Used by the auth chain before the principal is known to be
// valid, so a missing agent simply yields an empty slice.
func (db *DB) GetActiveAPIKeysByAgentID(ctx context.Context, agentID string) ([]model.APIKey, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, agent_id, key_hash, label, created_at, revoked_at
		 FROM api_keys
		 WHERE agent_id = $1 AND revoked_at IS NULL
		 ORDER BY created_at ASC`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.AgentID, &k.KeyHash, &k.Label, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey sets revoked_at on an API key. Returns ErrNotFound if the
// key does not exist or is already revoked.
func (db *DB) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
		keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
	}
	return nil
}
