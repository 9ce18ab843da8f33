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

// CreatePlan inserts a new plan and its dependency join rows in a single
// transaction. Every dependency ID must resolve to an existing plan; a
// failed check rolls the whole operation back.
func (db *DB) CreatePlan(ctx context.Context, req model.CreatePlanRequest) (model.Plan, error) {
	if err := req.Validate(); err != nil {
		return model.Plan{}, err
	}

	status := req.Status
	if status == "" {
		status = model.PlanStatusTodo
	}

	p := model.Plan{
		ID:           model.NewPlanID(),
		Title:        req.Title,
		Description:  req.Description,
		Status:       status,
		Dependencies: append([]string{}, req.Dependencies...),
		ThoughtIDs:   []string{},
		AgentID:      req.AgentID,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Plan{}, fmt.Errorf("storage: begin create plan tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	missing, err := missingPlanIDs(ctx, tx, req.Dependencies)
	if err != nil {
		return model.Plan{}, fmt.Errorf("storage: check plan dependencies: %w", err)
	}
	if len(missing) > 0 {
		return model.Plan{}, model.NewMissingIDsError("dependencies", missing)
	}

	if err := insertPlanTx(ctx, tx, p); err != nil {
		return model.Plan{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Plan{}, fmt.Errorf("storage: commit create plan tx: %w", err)
	}
	return p, nil
}

// insertPlanTx writes the plan row and its dependency join rows.
func insertPlanTx(ctx context.Context, tx pgx.Tx, p model.Plan) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO plans (id, title, description, status, agent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Title, p.Description, string(p.Status), p.AgentID, p.CreatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("storage: create plan: %w", err)
	}

	for _, dep := range p.Dependencies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO plan_dependencies (plan_id, depends_on_plan_id) VALUES ($1, $2)`,
			p.ID, dep,
		); err != nil {
			if isConstraintViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("storage: create plan dependency: %w", err)
		}
	}
	return nil
}

// BulkCreatePlans inserts a batch of plans atomically. Dependency IDs must
// reference plans that already exist outside the batch.
func (db *DB) BulkCreatePlans(ctx context.Context, reqs []model.CreatePlanRequest) ([]model.Plan, []model.BulkError, error) {
	var itemErrs []model.BulkError
	depRefs := make(map[string][]int)
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			itemErrs = append(itemErrs, model.BulkError{Index: i, Message: err.Error()})
			continue
		}
		for _, dep := range req.Dependencies {
			depRefs[dep] = append(depRefs[dep], i)
		}
	}
	if len(itemErrs) > 0 {
		return nil, itemErrs, &model.ValidationError{Field: "plans", Message: "batch rejected"}
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: begin bulk plans tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	refIDs := make([]string, 0, len(depRefs))
	for id := range depRefs {
		refIDs = append(refIDs, id)
	}
	missing, err := missingPlanIDs(ctx, tx, refIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: check plan dependencies: %w", err)
	}
	if len(missing) > 0 {
		for _, id := range missing {
			for _, idx := range depRefs[id] {
				itemErrs = append(itemErrs, model.BulkError{Index: idx, Message: fmt.Sprintf("dependencies: unknown id(s): %s", id)})
			}
		}
		return nil, itemErrs, model.NewMissingIDsError("dependencies", missing)
	}

	created := make([]model.Plan, 0, len(reqs))
	for _, req := range reqs {
		status := req.Status
		if status == "" {
			status = model.PlanStatusTodo
		}
		p := model.Plan{
			ID:           model.NewPlanID(),
			Title:        req.Title,
			Description:  req.Description,
			Status:       status,
			Dependencies: append([]string{}, req.Dependencies...),
			ThoughtIDs:   []string{},
			AgentID:      req.AgentID,
			CreatedAt:    time.Now().UTC(),
		}
		if err := insertPlanTx(ctx, tx, p); err != nil {
			return nil, nil, err
		}
		created = append(created, p)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("storage: commit bulk plans tx: %w", err)
	}
	return created, nil, nil
}

// GetPlanByID retrieves a plan with its dependency and associated thought
// ID lists attached. Returns ErrNotFound if no such plan exists.
func (db *DB) GetPlanByID(ctx context.Context, id string) (model.Plan, error) {
	var p model.Plan
	err := db.pool.QueryRow(ctx,
		`SELECT id, title, description, status, agent_id, created_at
		 FROM plans WHERE id = $1`, id,
	).Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.AgentID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, fmt.Errorf("storage: plan %s: %w", id, ErrNotFound)
		}
		return model.Plan{}, fmt.Errorf("storage: get plan: %w", err)
	}

	if err := db.attachPlanRelations(ctx, []*model.Plan{&p}); err != nil {
		return model.Plan{}, err
	}
	return p, nil
}

// ListPlans returns plans ordered newest-first with offset pagination, plus
// the total row count.
func (db *DB) ListPlans(ctx context.Context, limit, offset int) ([]model.Plan, int, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM plans`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count plans: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, title, description, status, agent_id, created_at
		 FROM plans
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list plans: %w", err)
	}
	defer rows.Close()

	plans, err := db.scanPlans(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return plans, total, nil
}

// ListPlansCursor returns plans newest-first using keyset pagination.
func (db *DB) ListPlansCursor(ctx context.Context, limit int, cursor string) ([]model.Plan, *string, error) {
	limit = clampLimit(limit)

	var rows pgx.Rows
	var err error
	if cursor == "" {
		rows, err = db.pool.Query(ctx,
			`SELECT id, title, description, status, agent_id, created_at
			 FROM plans
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
			`SELECT id, title, description, status, agent_id, created_at
			 FROM plans
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`, c.CreatedAt, c.ID, limit,
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: list plans by cursor: %w", err)
	}
	defer rows.Close()

	plans, err := db.scanPlans(ctx, rows)
	if err != nil {
		return nil, nil, err
	}

	var next *string
	if len(plans) == limit {
		last := plans[len(plans)-1]
		token := Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
		next = &token
	}
	return plans, next, nil
}

func (db *DB) scanPlans(ctx context.Context, rows pgx.Rows) ([]model.Plan, error) {
	var plans []model.Plan
	for rows.Next() {
		var p model.Plan
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.AgentID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate plans: %w", err)
	}
	rows.Close()

	ptrs := make([]*model.Plan, len(plans))
	for i := range plans {
		ptrs[i] = &plans[i]
	}
	if err := db.attachPlanRelations(ctx, ptrs); err != nil {
		return nil, err
	}
	return plans, nil
}

// attachPlanRelations loads dependency and thought-association ID lists for
// the given plans in two batched queries.
func (db *DB) attachPlanRelations(ctx context.Context, plans []*model.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	ids := make([]string, len(plans))
	byID := make(map[string]*model.Plan, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Dependencies = []string{}
		p.ThoughtIDs = []string{}
	}

	depRows, err := db.pool.Query(ctx,
		`SELECT plan_id, depends_on_plan_id FROM plan_dependencies
		 WHERE plan_id = ANY($1)
		 ORDER BY depends_on_plan_id`, ids,
	)
	if err != nil {
		return fmt.Errorf("storage: load plan dependencies: %w", err)
	}
	defer depRows.Close()
	for depRows.Next() {
		var planID, depID string
		if err := depRows.Scan(&planID, &depID); err != nil {
			return fmt.Errorf("storage: scan plan dependency: %w", err)
		}
		byID[planID].Dependencies = append(byID[planID].Dependencies, depID)
	}
	if err := depRows.Err(); err != nil {
		return fmt.Errorf("storage: iterate plan dependencies: %w", err)
	}

	thoughtRows, err := db.pool.Query(ctx,
		`SELECT plan_id, thought_id FROM thought_plans
		 WHERE plan_id = ANY($1)
		 ORDER BY thought_id`, ids,
	)
	if err != nil {
		return fmt.Errorf("storage: load plan thought associations: %w", err)
	}
	defer thoughtRows.Close()
	for thoughtRows.Next() {
		var planID, thoughtID string
		if err := thoughtRows.Scan(&planID, &thoughtID); err != nil {
			return fmt.Errorf("storage: scan plan thought association: %w", err)
		}
		byID[planID].ThoughtIDs = append(byID[planID].ThoughtIDs, thoughtID)
	}
	return thoughtRows.Err()
}

// UpdatePlanStatus transitions a plan's status and appends the transition to
// plan_status_events in the same transaction. Returns the updated plan.
func (db *DB) UpdatePlanStatus(ctx context.Context, id string, req model.UpdatePlanStatusRequest) (model.Plan, error) {
	if err := req.Validate(); err != nil {
		return model.Plan{}, err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Plan{}, fmt.Errorf("storage: begin status tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current model.PlanStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM plans WHERE id = $1 FOR UPDATE`, id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Plan{}, fmt.Errorf("storage: plan %s: %w", id, ErrNotFound)
		}
		return model.Plan{}, fmt.Errorf("storage: lock plan for status update: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE plans SET status = $1 WHERE id = $2`, string(req.Status), id,
	); err != nil {
		return model.Plan{}, fmt.Errorf("storage: update plan status: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO plan_status_events (id, plan_id, old_status, new_status, agent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), id, string(current), string(req.Status), req.AgentID, now,
	); err != nil {
		return model.Plan{}, fmt.Errorf("storage: record status event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Plan{}, fmt.Errorf("storage: commit status tx: %w", err)
	}
	return db.GetPlanByID(ctx, id)
}

// ListPlanStatusEvents returns the status transition history for a plan,
// newest-first. Returns ErrNotFound if the plan does not exist.
func (db *DB) ListPlanStatusEvents(ctx context.Context, planID string) ([]model.PlanStatusEvent, error) {
	missing, err := missingPlanIDs(ctx, db.pool, []string{planID})
	if err != nil {
		return nil, fmt.Errorf("storage: check plan: %w", err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("storage: plan %s: %w", planID, ErrNotFound)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, plan_id, old_status, new_status, agent_id, created_at
		 FROM plan_status_events
		 WHERE plan_id = $1
		 ORDER BY created_at DESC, id DESC`, planID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list status events: %w", err)
	}
	defer rows.Close()

	events := []model.PlanStatusEvent{}
	for rows.Next() {
		var e model.PlanStatusEvent
		if err := rows.Scan(&e.ID, &e.PlanID, &e.OldStatus, &e.NewStatus, &e.AgentID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan status event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
