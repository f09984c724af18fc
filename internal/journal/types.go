package journal

import (
	"encoding/json"
	"time"

	"github.com/inomotech-foss/beluga/internal/jobs"
)

// Execution is the recorded state of one job execution.
type Execution struct {
	ThingName       string
	JobID           string
	ExecutionNumber int64
	Status          jobs.JobStatus
	StatusDetails   jobs.StatusDetails
	VersionNumber   int64

	// Document is the job document, when a response carried it.
	Document json.RawMessage

	QueuedAt      time.Time
	StartedAt     time.Time
	LastUpdatedAt time.Time

	// RecordedAt is when the row was last written locally.
	RecordedAt time.Time
}

// ExecutionFromJob converts a Jobs execution description. It reports false
// when info has no job id.
func ExecutionFromJob(thingName string, info jobs.JobInfo) (Execution, bool) {
	jobID, ok := info.JobID.Get()
	if !ok || jobID == "" {
		return Execution{}, false
	}
	e := Execution{
		ThingName:       info.ThingName.OrElse(thingName),
		JobID:           jobID,
		ExecutionNumber: info.ExecutionNumber.OrElse(0),
		Status:          info.Status.OrElse(jobs.StatusQueued),
		StatusDetails:   info.StatusDetails.OrElse(nil),
		VersionNumber:   info.VersionNumber.OrElse(0),
		Document:        json.RawMessage(info.Document().Bytes()),
	}
	if ts, ok := info.QueuedAt.Get(); ok {
		e.QueuedAt = ts.Time
	}
	if ts, ok := info.StartedAt.Get(); ok {
		e.StartedAt = ts.Time
	}
	if ts, ok := info.LastUpdatedAt.Get(); ok {
		e.LastUpdatedAt = ts.Time
	}
	return e, true
}

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	ThingName string
	Status    jobs.JobStatus

	// Limit caps the number of rows. 0 uses DefaultListLimit.
	Limit int
}

// DefaultListLimit is the row cap of list queries without a limit.
const DefaultListLimit = 100

// SessionState is the lifecycle state of a tunnel session.
type SessionState string

// Tunnel session states.
const (
	SessionNotified  SessionState = "notified"
	SessionConnected SessionState = "connected"
	SessionFailed    SessionState = "failed"
	SessionClosed    SessionState = "closed"
)

// TunnelSession is one tunnel opened for the device.
type TunnelSession struct {
	// ID is the tunnel client token.
	ID        string
	ThingName string
	Region    string
	Mode      string
	Services  []string
	State     SessionState

	// Error is the connection failure, if any.
	Error string

	BytesIn  uint64
	BytesOut uint64

	OpenedAt  time.Time
	UpdatedAt time.Time
}

// SessionUpdate changes the mutable fields of a tunnel session.
type SessionUpdate struct {
	State    SessionState
	Error    string
	BytesIn  uint64
	BytesOut uint64
}
