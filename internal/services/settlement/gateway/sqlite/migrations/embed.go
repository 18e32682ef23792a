package migrations

import "embed"

// FS contains embedded SQLite migrations for the ledger gateway.
//
//go:embed *.sql
var FS embed.FS
