package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kiroku-ai/kiroku/internal/model"
)

// CreateChange inserts a changelog entry and its thought citation join rows
// in a single transaction. The plan reference and every thought reference
// must exist; a failed check rolls the whole operation back.
func (db *DB) CreateChange(ctx context.Context, req model.CreateChangeRequest) (model.Change, error) {
	if err := req.Validate(); err != nil {
		return model.Change{}, err
	}

	c := model.Change{
		ID:          model.NewChangeID(),
		Description: req.Description,
		PlanID:      req.PlanID,
		ThoughtIDs:  append([]string{}, req.ThoughtIDs...),
		AgentID:     req.AgentID,
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Change{}, fmt.Errorf("storage: begin create change tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	missingPlans, err := missingPlanIDs(ctx, tx, []string{req.PlanID})
	if err != nil {
		return model.Change{}, fmt.Errorf("storage: check plan reference: %w", err)
	}
	if len(missingPlans) > 0 {
		return model.Change{}, model.NewMissingIDsError("plan_id", missingPlans)
	}

	missingThoughts, err := missingThoughtIDs(ctx, tx, req.ThoughtIDs)
	if err != nil {
		return model.Change{}, fmt.Errorf("storage: check thought references: %w", err)
	}
	if len(missingThoughts) > 0 {
		return model.Change{}, model.NewMissingIDsError("thought_ids", missingThoughts)
	}

	if err := insertChangeTx(ctx, tx, c); err != nil {
		return model.Change{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Change{}, fmt.Errorf("storage: commit create change tx: %w", err)
	}
	return c, nil
}

func insertChangeTx(ctx context.Context, tx pgx.Tx, c model.Change) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO changelog (id, description, plan_id, agent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Description, c.PlanID, c.AgentID, c.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("storage: create change: %w", err)
	}

	for _, thoughtID := range c.ThoughtIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO change_thoughts (change_id, thought_id) VALUES ($1, $2)`,
			c.ID, thoughtID,
		); err != nil {
			if isConstraintViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("storage: create change citation: %w", err)
		}
	}
	return nil
}

// BulkCreateChanges inserts a batch of changelog entries atomically.
func (db *DB) BulkCreateChanges(ctx context.Context, reqs []model.CreateChangeRequest) ([]model.Change, []model.BulkError, error) {
	var itemErrs []model.BulkError
	planRefs := make(map[string][]int)
	thoughtRefs := make(map[string][]int)
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			itemErrs = append(itemErrs, model.BulkError{Index: i, Message: err.Error()})
			continue
		}
		planRefs[req.PlanID] = append(planRefs[req.PlanID], i)
		for _, id := range req.ThoughtIDs {
			thoughtRefs[id] = append(thoughtRefs[id], i)
		}
	}
	if len(itemErrs) > 0 {
		return nil, itemErrs, &model.ValidationError{Field: "changes", Message: "batch rejected"}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: begin bulk changes tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	planIDs := make([]string, 0, len(planRefs))
	for id := range planRefs {
		planIDs = append(planIDs, id)
	}
	missingPlans, err := missingPlanIDs(ctx, tx, planIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: check plan references: %w", err)
	}
	thoughtIDs := make([]string, 0, len(thoughtRefs))
	for id := range thoughtRefs {
		thoughtIDs = append(thoughtIDs, id)
	}
	missingThoughts, err := missingThoughtIDs(ctx, tx, thoughtIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: check thought references: %w", err)
	}
	if len(missingPlans) > 0 || len(missingThoughts) > 0 {
		for _, id := range missingPlans {
			for _, idx := range planRefs[id] {
				itemErrs = append(itemErrs, model.BulkError{Index: idx, Message: fmt.Sprintf("plan_id: unknown id(s): %s", id)})
			}
		}
		for _, id := range missingThoughts {
			for _, idx := range thoughtRefs[id] {
				itemErrs = append(itemErrs, model.BulkError{Index: idx, Message: fmt.Sprintf("thought_ids: unknown id(s): %s", id)})
			}
		}
		return nil, itemErrs, model.NewMissingIDsError("references", append(missingPlans, missingThoughts...))
	}

	created := make([]model.Change, 0, len(reqs))
	for _, req := range reqs {
		c := model.Change{
			ID:          model.NewChangeID(),
			Description: req.Description,
			PlanID:      req.PlanID,
			ThoughtIDs:  append([]string{}, req.ThoughtIDs...),
			AgentID:     req.AgentID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := insertChangeTx(ctx, tx, c); err != nil {
			return nil, nil, err
		}
		created = append(created, c)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("storage: commit bulk changes tx: %w", err)
	}
	return created, nil, nil
}

// GetChangeByID retrieves a changelog entry with its cited thought IDs.
// Returns ErrNotFound if no such entry exists.
func (db *DB) GetChangeByID(ctx context.Context, id string) (model.Change, error) {
	var c model.Change
	err := db.pool.QueryRow(ctx,
		`SELECT id, description, plan_id, agent_id, created_at
		 FROM changelog WHERE id = $1`, id,
	).Scan(&c.ID, &c.Description, &c.PlanID, &c.AgentID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Change{}, fmt.Errorf("storage: change %s: %w", id, ErrNotFound)
		}
		return model.Change{}, fmt.Errorf("storage: get change: %w", err)
	}

	cites, err := db.changeThoughtCitations(ctx, []string{c.ID})
	if err != nil {
		return model.Change{}, err
	}
	c.ThoughtIDs = cites[c.ID]
	if c.ThoughtIDs == nil {
		c.ThoughtIDs = []string{}
	}
	return c, nil
}

// ListChanges returns changelog entries ordered newest-first with offset
// pagination, plus the total row count.
func (db *DB) ListChanges(ctx context.Context, limit, offset int) ([]model.Change, int, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM changelog`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count changes: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, description, plan_id, agent_id, created_at
		 FROM changelog
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list changes: %w", err)
	}
	defer rows.Close()

	changes, err := db.scanChanges(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return changes, total, nil
}

// ListChangesCursor returns changelog entries newest-first using keyset
// pagination.
func (db *DB) ListChangesCursor(ctx context.Context, limit int, cursor string) ([]model.Change, *string, error) {
	limit = clampLimit(limit)

	var rows pgx.Rows
	var err error
	if cursor == "" {
		rows, err = db.pool.Query(ctx,
			`SELECT id, description, plan_id, agent_id, created_at
			 FROM changelog
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
			`SELECT id, description, plan_id, agent_id, created_at
			 FROM changelog
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`, c.CreatedAt, c.ID, limit,
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: list changes by cursor: %w", err)
	}
	defer rows.Close()

	changes, err := db.scanChanges(ctx, rows)
	if err != nil {
		return nil, nil, err
	}

	var next *string
	if len(changes) == limit {
		last := changes[len(changes)-1]
		token := Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
		next = &token
	}
	return changes, next, nil
}

func (db *DB) scanChanges(ctx context.Context, rows pgx.Rows) ([]model.Change, error) {
	var changes []model.Change
	for rows.Next() {
		var c model.Change
		if err := rows.Scan(&c.ID, &c.Description, &c.PlanID, &c.AgentID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan change: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate changes: %w", err)
	}
	rows.Close()

	ids := make([]string, len(changes))
	for i := range changes {
		ids[i] = changes[i].ID
	}
	cites, err := db.changeThoughtCitations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range changes {
		changes[i].ThoughtIDs = cites[changes[i].ID]
		if changes[i].ThoughtIDs == nil {
			changes[i].ThoughtIDs = []string{}
		}
	}
	return changes, nil
}

// changeThoughtCitations returns change_id -> thought_ids for the given
// changes, ordered by thought id for deterministic output.
func (db *DB) changeThoughtCitations(ctx context.Context, changeIDs []string) (map[string][]string, error) {
	if len(changeIDs) == 0 {
		return map[string][]string{}, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT change_id, thought_id FROM change_thoughts
		 WHERE change_id = ANY($1)
		 ORDER BY thought_id`, changeIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load change citations: %w", err)
	}
	defer rows.Close()

	cites := make(map[string][]string)
	for rows.Next() {
		var changeID, thoughtID string
		if err := rows.Scan(&changeID, &thoughtID); err != nil {
			return nil, fmt.Errorf("storage: scan change citation: %w", err)
		}
		cites[changeID] = append(cites[changeID], thoughtID)
	}
	return cites, rows.Err()
}
