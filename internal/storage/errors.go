package storage

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a storage-level uniqueness or foreign-key
// constraint fires after the application-level checks passed (i.e. a race
// between concurrent writers). The owning transaction has been rolled back.
var ErrConflict = errors.New("storage: conflict")

// isConstraintViolation reports whether err is a Postgres integrity
// constraint violation (SQLSTATE class 23).
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}
