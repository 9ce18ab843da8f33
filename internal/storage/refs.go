package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// querier is the subset of pgx.Tx / pgxpool.Pool used by the referential
// existence checks, so they can run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// missingPlanIDs returns the subset of ids with no matching plans row,
// preserving input order.
func missingPlanIDs(ctx context.Context, q querier, ids []string) ([]string, error) {
	return missingIDs(ctx, q, `SELECT id FROM plans WHERE id = ANY($1)`, ids)
}

// missingThoughtIDs returns the subset of ids with no matching thoughts row,
// preserving input order.
func missingThoughtIDs(ctx context.Context, q querier, ids []string) ([]string, error) {
	return missingIDs(ctx, q, `SELECT id FROM thoughts WHERE id = ANY($1)`, ids)
}

func missingIDs(ctx context.Context, q querier, query string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
