package migrations

import "embed"

// FS contains embedded SQLite migrations for node protocol state.
//
//go:embed *.sql
var FS embed.FS
