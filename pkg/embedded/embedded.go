// Package embedded provides assets compiled into the allocator binaries.
package embedded

import (
	"embed"
)

// Schemas contains the SQLite schema of every database, one file per
// database name (schemas/<name>_schema.sql).
//
//go:embed schemas/*.sql
var Schemas embed.FS
