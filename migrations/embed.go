// Package migrations embeds the agent's SQL schema into the binary.
package migrations

import "embed"

// FS holds the migration files at its root. Pass it to
// database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
