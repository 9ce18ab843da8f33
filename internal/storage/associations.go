package storage

import (
	"context"
	"fmt"
)

// AssociateThoughtPlan links a thought to a plan in the thought_plans join
// table. Idempotent: associating an already-linked pair is a no-op success.
// Both IDs must exist; a missing one returns ErrNotFound wrapped with the
// offending ID.
func (db *DB) AssociateThoughtPlan(ctx context.Context, thoughtID, planID string) error {
	if err := db.checkAssociationPair(ctx, thoughtID, planID); err != nil {
		return err
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO thought_plans (thought_id, plan_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		thoughtID, planID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			// FK race: one side was deleted between the check and the insert.
			return ErrConflict
		}
		return fmt.Errorf("storage: associate thought %s with plan %s: %w", thoughtID, planID, err)
	}
	return nil
}

// DisassociateThoughtPlan removes a thought-plan link. Idempotent:
// disassociating a pair that is not linked is a no-op success, but both IDs
// must still exist.
func (db *DB) DisassociateThoughtPlan(ctx context.Context, thoughtID, planID string) error {
	if err := db.checkAssociationPair(ctx, thoughtID, planID); err != nil {
		return err
	}

	_, err := db.pool.Exec(ctx,
		`DELETE FROM thought_plans WHERE thought_id = $1 AND plan_id = $2`,
		thoughtID, planID,
	)
	if err != nil {
		return fmt.Errorf("storage: disassociate thought %s from plan %s: %w", thoughtID, planID, err)
	}
	return nil
}

// checkAssociationPair verifies both sides of a thought-plan association
// exist, naming whichever one is missing.
func (db *DB) checkAssociationPair(ctx context.Context, thoughtID, planID string) error {
	missingThoughts, err := missingThoughtIDs(ctx, db.pool, []string{thoughtID})
	if err != nil {
		return fmt.Errorf("storage: check thought: %w", err)
	}
	if len(missingThoughts) > 0 {
		return fmt.Errorf("storage: thought %s: %w", thoughtID, ErrNotFound)
	}

	missingPlans, err := missingPlanIDs(ctx, db.pool, []string{planID})
	if err != nil {
		return fmt.Errorf("storage: check plan: %w", err)
	}
	if len(missingPlans) > 0 {
		return fmt.Errorf("storage: plan %s: %w", planID, ErrNotFound)
	}
	return nil
}

// PurgeAll deletes every entity and join row. Admin-only escape hatch; the
// join tables cascade from their parents but are deleted explicitly so the
// statement order never depends on FK configuration.
func (db *DB) PurgeAll(ctx context.Context) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin purge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{
		"change_thoughts", "thought_plans", "plan_dependencies",
		"plan_status_events", "changelog", "thoughts", "plans",
	} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("storage: purge %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit purge tx: %w", err)
	}
	return nil
}
