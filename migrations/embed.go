// Package migrations holds the SQL schema files, embedded so the runner
// works the same from any working directory.
package migrations

import "embed"

// FS contains every .sql file in this directory, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
