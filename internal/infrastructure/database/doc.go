// Package database provides the SQLite store behind the agent journal.
//
// The agent records job executions and tunnel sessions locally so that an
// operator can inspect what a device did while it was offline. This
// package owns the connection and the schema; the journal package owns the
// queries.
//
// Setup:
//   - WAL mode so journal reads do not block the writer
//   - A busy timeout instead of immediate "database is locked" errors
//   - One open connection, matching SQLite's single writer
//   - File mode 0600, since job documents may carry credentials
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations:
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. Each one is applied in its own transaction and
// recorded in schema_migrations.
package database
