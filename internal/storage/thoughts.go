package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// CreateThought inserts a new thought. The optional plan_id reference is
// checked for existence inside the same transaction as the insert, so a
// failed check leaves no row behind.
func (db *DB) CreateThought(ctx context.Context, req model.CreateThoughtRequest) (model.Thought, error) {
	if err := req.Validate(); err != nil {
		return model.Thought{}, err
	}

	t := model.Thought{
		ID:          model.NewThoughtID(),
		Content:     req.Content,
		PlanID:      req.PlanID,
		Uncertainty: req.Uncertainty,
		AgentID:     req.AgentID,
		PlanIDs:     []string{},
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Thought{}, fmt.Errorf("storage: begin create thought tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.PlanID != nil {
		missing, err := missingPlanIDs(ctx, tx, []string{*req.PlanID})
		if err != nil {
			return model.Thought{}, fmt.Errorf("storage: check plan reference: %w", err)
		}
		if len(missing) > 0 {
			return model.Thought{}, model.NewMissingIDsError("plan_id", missing)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO thoughts (id, content, plan_id, uncertainty, agent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Content, t.PlanID, t.Uncertainty, t.AgentID, t.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return model.Thought{}, ErrConflict
		}
		return model.Thought{}, fmt.Errorf("storage: create thought: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Thought{}, fmt.Errorf("storage: commit create thought tx: %w", err)
	}
	return t, nil
}

// BulkCreateThoughts inserts a batch of thoughts atomically. If any item is
// invalid the whole batch rolls back and the per-item errors are returned
// alongside a non-nil error.
func (db *DB) BulkCreateThoughts(ctx context.Context, reqs []model.CreateThoughtRequest) ([]model.Thought, []model.BulkError, error) {
	var itemErrs []model.BulkError
	planRefs := make(map[string][]int) // plan id -> batch indexes referencing it
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			itemErrs = append(itemErrs, model.BulkError{Index: i, Message: err.Error()})
			continue
		}
		if req.PlanID != nil {
			planRefs[*req.PlanID] = append(planRefs[*req.PlanID], i)
		}
	}
	if len(itemErrs) > 0 {
		return nil, itemErrs, &model.ValidationError{Field: "thoughts", Message: "batch rejected"}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: begin bulk thoughts tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	refIDs := make([]string, 0, len(planRefs))
	for id := range planRefs {
		refIDs = append(refIDs, id)
	}
	missing, err := missingPlanIDs(ctx, tx, refIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: check plan references: %w", err)
	}
	if len(missing) > 0 {
		for _, id := range missing {
			for _, idx := range planRefs[id] {
				itemErrs = append(itemErrs, model.BulkError{Index: idx, Message: fmt.Sprintf("plan_id: unknown id(s): %s", id)})
			}
		}
		return nil, itemErrs, model.NewMissingIDsError("plan_id", missing)
	}

	created := make([]model.Thought, 0, len(reqs))
	for _, req := range reqs {
		t := model.Thought{
			ID:          model.NewThoughtID(),
			Content:     req.Content,
			PlanID:      req.PlanID,
			Uncertainty: req.Uncertainty,
			AgentID:     req.AgentID,
			PlanIDs:     []string{},
			CreatedAt:   time.Now().UTC(),
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO thoughts (id, content, plan_id, uncertainty, agent_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, t.Content, t.PlanID, t.Uncertainty, t.AgentID, t.CreatedAt,
		); err != nil {
			if isConstraintViolation(err) {
				return nil, nil, ErrConflict
			}
			return nil, nil, fmt.Errorf("storage: bulk create thought: %w", err)
		}
		created = append(created, t)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("storage: commit bulk thoughts tx: %w", err)
	}
	return created, nil, nil
}

// GetThoughtByID retrieves a thought with its associated plan IDs.
// Returns ErrNotFound if no such thought exists.
func (db *DB) GetThoughtByID(ctx context.Context, id string) (model.Thought, error) {
	var t model.Thought
	err := db.pool.QueryRow(ctx,
		`SELECT id, content, plan_id, uncertainty, agent_id, created_at
		 FROM thoughts WHERE id = $1`, id,
	).Scan(&t.ID, &t.Content, &t.PlanID, &t.Uncertainty, &t.AgentID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Thought{}, fmt.Errorf("storage: thought %s: %w", id, ErrNotFound)
		}
		return model.Thought{}, fmt.Errorf("storage: get thought: %w", err)
	}

	planIDs, err := db.thoughtPlanAssociations(ctx, []string{t.ID})
	if err != nil {
		return model.Thought{}, err
	}
	t.PlanIDs = planIDs[t.ID]
	if t.PlanIDs == nil {
		t.PlanIDs = []string{}
	}
	return t, nil
}

// ListThoughts returns thoughts ordered newest-first with offset pagination,
// plus the total row count.
func (db *DB) ListThoughts(ctx context.Context, limit, offset int) ([]model.Thought, int, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM thoughts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count thoughts: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, content, plan_id, uncertainty, agent_id, created_at
		 FROM thoughts
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list thoughts: %w", err)
	}
	defer rows.Close()

	thoughts, err := db.scanThoughts(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return thoughts, total, nil
}

// ListThoughtsCursor returns thoughts newest-first using keyset pagination.
// An empty cursor starts from the newest row. The returned next cursor is
// nil when the page was not full.
func (db *DB) ListThoughtsCursor(ctx context.Context, limit int, cursor string) ([]model.Thought, *string, error) {
	limit = clampLimit(limit)

	var rows pgx.Rows
	var err error
	if cursor == "" {
		rows, err = db.pool.Query(ctx,
			`SELECT id, content, plan_id, uncertainty, agent_id, created_at
			 FROM thoughts
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`, limit,
		)
	} else {
		var c Cursor
		c, err = DecodeCursor(cursor)
		if err != nil {
			return nil, nil, err
		}
		rows, err = db.pool.Query(ctx,
			`SELECT id, content, plan_id, uncertainty, agent_id, created_at
			 FROM thoughts
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`, c.CreatedAt, c.ID, limit,
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: list thoughts by cursor: %w", err)
	}
	defer rows.Close()

	thoughts, err := db.scanThoughts(ctx, rows)
	if err != nil {
		return nil, nil, err
	}

	var next *string
	if len(thoughts) == limit {
		last := thoughts[len(thoughts)-1]
		token := Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
		next = &token
	}
	return thoughts, next, nil
}

// scanThoughts drains rows and attaches associated plan IDs in one batched
// join-table query (no per-row lookups).
func (db *DB) scanThoughts(ctx context.Context, rows pgx.Rows) ([]model.Thought, error) {
	var thoughts []model.Thought
	for rows.Next() {
		var t model.Thought
		if err := rows.Scan(&t.ID, &t.Content, &t.PlanID, &t.Uncertainty, &t.AgentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan thought: %w", err)
		}
		thoughts = append(thoughts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate thoughts: %w", err)
	}
	rows.Close()

	ids := make([]string, len(thoughts))
	for i := range thoughts {
		ids[i] = thoughts[i].ID
	}
	assoc, err := db.thoughtPlanAssociations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range thoughts {
		thoughts[i].PlanIDs = assoc[thoughts[i].ID]
		if thoughts[i].PlanIDs == nil {
			thoughts[i].PlanIDs = []string{}
		}
	}
	return thoughts, nil
}

// thoughtPlanAssociations returns thought_id -> plan_ids for the given
// thoughts, ordered by plan id for deterministic output.
func (db *DB) thoughtPlanAssociations(ctx context.Context, thoughtIDs []string) (map[string][]string, error) {
	if len(thoughtIDs) == 0 {
		return map[string][]string{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT thought_id, plan_id FROM thought_plans
		 WHERE thought_id = ANY($1)
		 ORDER BY plan_id`, thoughtIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load thought associations: %w", err)
	}
	defer rows.Close()

	assoc := make(map[string][]string)
	for rows.Next() {
		var thoughtID, planID string
		if err := rows.Scan(&thoughtID, &planID); err != nil {
			return nil, fmt.Errorf("storage: scan thought association: %w", err)
		}
		assoc[thoughtID] = append(assoc[thoughtID], planID)
	}
	return assoc, rows.Err()
}
