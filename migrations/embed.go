package migrations

import "embed"

// Files exposes embedded SQL migration files. Root-level files target
// Postgres; the sqlite/ directory carries the SQLite variant.
//
//go:embed *.sql sqlite/*.sql
var Files embed.FS
