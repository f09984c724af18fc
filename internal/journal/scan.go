package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/inomotech-foss/beluga/internal/jobs"
)

// timeLayout is a fixed-width UTC format, so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e                                  Execution
		status, details                    string
		document                           sql.NullString
		queuedAt, startedAt, lastUpdatedAt sql.NullString
		recordedAt                         string
	)
	err := row.Scan(
		&e.ThingName,
		&e.JobID,
		&e.ExecutionNumber,
		&status,
		&details,
		&e.VersionNumber,
		&document,
		&queuedAt,
		&startedAt,
		&lastUpdatedAt,
		&recordedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = jobs.JobStatus(status)
	if err := json.Unmarshal([]byte(details), &e.StatusDetails); err != nil {
		return nil, fmt.Errorf("unmarshalling status details: %w", err)
	}
	if len(e.StatusDetails) == 0 {
		e.StatusDetails = nil
	}
	if document.Valid {
		e.Document = json.RawMessage(document.String)
	}
	e.QueuedAt = parseTime(queuedAt)
	e.StartedAt = parseTime(startedAt)
	e.LastUpdatedAt = parseTime(lastUpdatedAt)
	e.RecordedAt = parseTime(sql.NullString{String: recordedAt, Valid: true})
	return &e, nil
}

func scanSession(row rowScanner) (*TunnelSession, error) {
	var (
		s                   TunnelSession
		services, state     string
		sessionErr          sql.NullString
		bytesIn, bytesOut   int64
		openedAt, updatedAt string
	)
	err := row.Scan(
		&s.ID,
		&s.ThingName,
		&s.Region,
		&s.Mode,
		&services,
		&state,
		&sessionErr,
		&bytesIn,
		&bytesOut,
		&openedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(services), &s.Services); err != nil {
		return nil, fmt.Errorf("unmarshalling services: %w", err)
	}
	s.State = SessionState(state)
	s.Error = sessionErr.String
	s.BytesIn = uint64(bytesIn)   //nolint:gosec // Written from uint64
	s.BytesOut = uint64(bytesOut) //nolint:gosec // Written from uint64
	s.OpenedAt = parseTime(sql.NullString{String: openedAt, Valid: true})
	s.UpdatedAt = parseTime(sql.NullString{String: updatedAt, Valid: true})
	return &s, nil
}

// parseTime reads a stored time. Invalid or NULL values give the zero time.
func parseTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// expectRow maps an update that touched no rows to notFound.
func expectRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
