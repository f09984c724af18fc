package journal

import "errors"

// Journal errors. Check them with errors.Is.
var (
	// ErrExecutionNotFound is returned when no execution is recorded for a job.
	ErrExecutionNotFound = errors.New("journal: execution not found")

	// ErrSessionNotFound is returned when a tunnel session id is unknown.
	ErrSessionNotFound = errors.New("journal: tunnel session not found")

	// ErrSessionExists is returned when opening a session with a used id.
	ErrSessionExists = errors.New("journal: tunnel session already exists")

	// ErrInvalidRecord is returned when a record misses a required field.
	ErrInvalidRecord = errors.New("journal: invalid record")
)
