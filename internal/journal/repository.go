package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inomotech-foss/beluga/internal/jobs"
)

// Repository persists job executions and tunnel sessions.
type Repository interface {
	// RecordExecution inserts or updates an execution. An update carrying
	// an older version number than the stored one is ignored.
	RecordExecution(ctx context.Context, e *Execution) error

	// UpdateExecutionStatus changes the status of the latest recorded
	// execution of jobID. Returns ErrExecutionNotFound if none exists.
	UpdateExecutionStatus(ctx context.Context, thingName, jobID string, status jobs.JobStatus, versionNumber int64) error

	// GetExecution returns the latest recorded execution of jobID.
	// Returns ErrExecutionNotFound if none exists.
	GetExecution(ctx context.Context, thingName, jobID string) (*Execution, error)

	// ListExecutions returns executions, most recently recorded first.
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error)

	// OpenTunnelSession inserts a session.
	// Returns ErrSessionExists if the id is already recorded.
	OpenTunnelSession(ctx context.Context, s *TunnelSession) error

	// UpdateTunnelSession changes the state and counters of a session.
	// Returns ErrSessionNotFound if the id is unknown.
	UpdateTunnelSession(ctx context.Context, id string, u SessionUpdate) error

	// ListTunnelSessions returns sessions, newest first.
	ListTunnelSessions(ctx context.Context, limit int) ([]TunnelSession, error)
}

// SQLiteRepository implements Repository on the agent database.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository returns a repository on db. The journal tables must
// already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================================
// Job executions
// ============================================================================

const executionColumns = `
	thing_name, job_id, execution_number, status, status_details,
	version_number, job_document, queued_at, started_at, last_updated_at,
	recorded_at`

// RecordExecution inserts or updates an execution.
func (r *SQLiteRepository) RecordExecution(ctx context.Context, e *Execution) error {
	if e.ThingName == "" || e.JobID == "" {
		return fmt.Errorf("%w: thing name and job id are required", ErrInvalidRecord)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, e.Status)
	}

	details, err := json.Marshal(e.StatusDetails)
	if err != nil {
		return fmt.Errorf("marshalling status details: %w", err)
	}
	if e.StatusDetails == nil {
		details = []byte("{}")
	}
	e.RecordedAt = r.now()

	// Documents and timestamps missing from a later response keep their
	// stored values.
	query := `
		INSERT INTO job_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thing_name, job_id, execution_number) DO UPDATE SET
			status = excluded.status,
			status_details = excluded.status_details,
			version_number = excluded.version_number,
			job_document = COALESCE(excluded.job_document, job_executions.job_document),
			queued_at = COALESCE(excluded.queued_at, job_executions.queued_at),
			started_at = COALESCE(excluded.started_at, job_executions.started_at),
			last_updated_at = COALESCE(excluded.last_updated_at, job_executions.last_updated_at),
			recorded_at = excluded.recorded_at
		WHERE excluded.version_number >= job_executions.version_number`

	_, err = r.db.ExecContext(ctx, query,
		e.ThingName,
		e.JobID,
		e.ExecutionNumber,
		string(e.Status),
		string(details),
		e.VersionNumber,
		nullableBytes(e.Document),
		nullableTime(e.QueuedAt),
		nullableTime(e.StartedAt),
		nullableTime(e.LastUpdatedAt),
		e.RecordedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	return nil
}

// UpdateExecutionStatus changes the status of the latest execution of jobID.
func (r *SQLiteRepository) UpdateExecutionStatus(ctx context.Context, thingName, jobID string, status jobs.JobStatus, versionNumber int64) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, status)
	}
	query := `
		UPDATE job_executions
		SET status = ?, version_number = MAX(version_number, ?), recorded_at = ?
		WHERE thing_name = ? AND job_id = ? AND execution_number = (
			SELECT MAX(execution_number) FROM job_executions
			WHERE thing_name = ? AND job_id = ?
		)`

	result, err := r.db.ExecContext(ctx, query,
		string(status),
		versionNumber,
		r.now().Format(timeLayout),
		thingName, jobID,
		thingName, jobID,
	)
	if err != nil {
		return fmt.Errorf("updating execution status: %w", err)
	}
	return expectRow(result, ErrExecutionNotFound)
}

// GetExecution returns the latest recorded execution of jobID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, thingName, jobID string) (*Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM job_executions
		WHERE thing_name = ? AND job_id = ?
		ORDER BY execution_number DESC
		LIMIT 1`

	e, err := scanExecution(r.db.QueryRowContext(ctx, query, thingName, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return e, nil
}

// ListExecutions returns executions, most recently recorded first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	var where []string
	var args []any
	if filter.ThingName != "" {
		where = append(where, "thing_name = ?")
		args = append(args, filter.ThingName)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM job_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, job_id LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return out, nil
}

// ============================================================================
// Tunnel sessions
// ============================================================================

const sessionColumns = `
	id, thing_name, region, mode, services, state, error,
	bytes_in, bytes_out, opened_at, updated_at`

// OpenTunnelSession inserts a session.
func (r *SQLiteRepository) OpenTunnelSession(ctx context.Context, s *TunnelSession) error {
	if s.ID == "" || s.ThingName == "" {
		return fmt.Errorf("%w: session id and thing name are required", ErrInvalidRecord)
	}
	services, err := json.Marshal(s.Services)
	if err != nil {
		return fmt.Errorf("marshalling services: %w", err)
	}
	if s.Services == nil {
		services = []byte("[]")
	}
	if s.State == "" {
		s.State = SessionNotified
	}
	now := r.now()
	if s.OpenedAt.IsZero() {
		s.OpenedAt = now
	}
	s.UpdatedAt = now

	query := `INSERT INTO tunnel_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.ThingName,
		s.Region,
		s.Mode,
		string(services),
		string(s.State),
		nullableString(s.Error),
		int64(s.BytesIn),  //nolint:gosec // Byte counters stay far below 2^63
		int64(s.BytesOut), //nolint:gosec // Byte counters stay far below 2^63
		s.OpenedAt.UTC().Format(timeLayout),
		s.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("inserting tunnel session: %w", err)
	}
	return nil
}

// UpdateTunnelSession changes the state and counters of a session. An
// empty Error keeps the stored one.
func (r *SQLiteRepository) UpdateTunnelSession(ctx context.Context, id string, u SessionUpdate) error {
	query := `
		UPDATE tunnel_sessions
		SET state = ?, error = COALESCE(?, error), bytes_in = ?, bytes_out = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(u.State),
		nullableString(u.Error),
		int64(u.BytesIn),  //nolint:gosec // Byte counters stay far below 2^63
		int64(u.BytesOut), //nolint:gosec // Byte counters stay far below 2^63
		r.now().Format(timeLayout),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating tunnel session: %w", err)
	}
	return expectRow(result, ErrSessionNotFound)
}

// ListTunnelSessions returns sessions, newest first.
func (r *SQLiteRepository) ListTunnelSessions(ctx context.Context, limit int) ([]TunnelSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM tunnel_sessions ORDER BY opened_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying tunnel sessions: %w", err)
	}
	defer rows.Close()

	var out []TunnelSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tunnel session: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tunnel sessions: %w", err)
	}
	return out, nil
}
