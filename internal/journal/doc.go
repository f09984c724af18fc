// Package journal keeps a local record of job executions and tunnel
// sessions in SQLite.
//
// Rows are written by the agent as Jobs responses and tunnel events
// arrive, so the history survives restarts and periods without
// connectivity. The schema lives in the top-level migrations package.
package journal
