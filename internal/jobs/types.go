package jobs

import (
	"bytes"
	"encoding/json"

	"github.com/inomotech-foss/beluga/internal/buffer"
)

// JobStatus is the status of a job execution.
type JobStatus string

// Job execution statuses.
const (
	StatusQueued     JobStatus = "QUEUED"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusFailed     JobStatus = "FAILED"
	StatusSucceeded  JobStatus = "SUCCEEDED"
	StatusCanceled   JobStatus = "CANCELED"
	StatusTimedOut   JobStatus = "TIMED_OUT"
	StatusRejected   JobStatus = "REJECTED"
	StatusRemoved    JobStatus = "REMOVED"
)

// AllStatuses returns every known JobStatus.
func AllStatuses() []JobStatus {
	return []JobStatus{
		StatusQueued, StatusInProgress, StatusFailed, StatusSucceeded,
		StatusCanceled, StatusTimedOut, StatusRejected, StatusRemoved,
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusFailed, StatusSucceeded,
		StatusCanceled, StatusTimedOut, StatusRejected, StatusRemoved:
		return true
	}
	return false
}

// IsTerminal reports whether no further update is accepted for an
// execution in status s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusSucceeded, StatusCanceled, StatusTimedOut, StatusRejected, StatusRemoved:
		return true
	}
	return false
}

// StatusDetails are free-form name/value pairs attached to an execution.
type StatusDetails map[string]string

// JobInfo describes one job execution.
type JobInfo struct {
	JobID           Optional[string]        `json:"jobId,omitzero"`
	ThingName       Optional[string]        `json:"thingName,omitzero"`
	JobDocument     json.RawMessage         `json:"jobDocument,omitempty"`
	Status          Optional[JobStatus]     `json:"status,omitzero"`
	StatusDetails   Optional[StatusDetails] `json:"statusDetails,omitzero"`
	VersionNumber   Optional[int64]         `json:"versionNumber,omitzero"`
	ExecutionNumber Optional[int64]         `json:"executionNumber,omitzero"`
	QueuedAt        Optional[Timestamp]     `json:"queuedAt,omitzero"`
	StartedAt       Optional[Timestamp]     `json:"startedAt,omitzero"`
	LastUpdatedAt   Optional[Timestamp]     `json:"lastUpdatedAt,omitzero"`
}

// Document returns the raw job document as a Borrowed buffer. It is empty
// when the response did not include the document or sent null. Copy it to
// keep it beyond the handler call.
func (j JobInfo) Document() buffer.Buffer {
	return document(j.JobDocument)
}

// document views raw as a Borrowed buffer, treating a JSON null as absent.
func document(raw json.RawMessage) buffer.Buffer {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return buffer.Borrow(nil)
	}
	return buffer.Borrow(raw)
}

// JobExecutionState is the state part of an update response.
type JobExecutionState struct {
	Status        Optional[JobStatus]     `json:"status,omitzero"`
	StatusDetails Optional[StatusDetails] `json:"statusDetails,omitzero"`
	VersionNumber Optional[int64]         `json:"versionNumber,omitzero"`
}

// JobExecutionSummary is the short form of an execution used in lists.
type JobExecutionSummary struct {
	JobID           Optional[string]    `json:"jobId,omitzero"`
	VersionNumber   Optional[int64]     `json:"versionNumber,omitzero"`
	ExecutionNumber Optional[int64]     `json:"executionNumber,omitzero"`
	QueuedAt        Optional[Timestamp] `json:"queuedAt,omitzero"`
	StartedAt       Optional[Timestamp] `json:"startedAt,omitzero"`
	LastUpdatedAt   Optional[Timestamp] `json:"lastUpdatedAt,omitzero"`
}

// PendingExecutions is the accepted response to a get-pending request.
// Both lists keep the order the service returned.
type PendingExecutions struct {
	InProgressJobs []JobExecutionSummary `json:"inProgressJobs"`
	QueuedJobs     []JobExecutionSummary `json:"queuedJobs"`
	Timestamp      Optional[Timestamp]   `json:"timestamp,omitzero"`
	ClientToken    Optional[string]      `json:"clientToken,omitzero"`
}

// StartNextResponse is the accepted response to a start-next request. An
// unset Execution means nothing was pending.
type StartNextResponse struct {
	Execution   Optional[JobInfo]   `json:"execution,omitzero"`
	Timestamp   Optional[Timestamp] `json:"timestamp,omitzero"`
	ClientToken Optional[string]    `json:"clientToken,omitzero"`
}

// DescribeResponse is the accepted response to a describe request.
type DescribeResponse struct {
	Execution   Optional[JobInfo]   `json:"execution,omitzero"`
	Timestamp   Optional[Timestamp] `json:"timestamp,omitzero"`
	ClientToken Optional[string]    `json:"clientToken,omitzero"`
}

// UpdateResponse is the accepted response to an update request.
type UpdateResponse struct {
	ExecutionState Optional[JobExecutionState] `json:"executionState,omitzero"`
	JobDocument    json.RawMessage             `json:"jobDocument,omitempty"`
	Timestamp      Optional[Timestamp]         `json:"timestamp,omitzero"`
	ClientToken    Optional[string]            `json:"clientToken,omitzero"`
}

// Document returns the job document included in the response, if any, as
// a Borrowed buffer.
func (r UpdateResponse) Document() buffer.Buffer {
	return document(r.JobDocument)
}

// ExecutionsChangedEvent arrives on notify whenever an execution is added
// to or removed from the pending list. Jobs is keyed by status.
type ExecutionsChangedEvent struct {
	Timestamp Optional[Timestamp]                 `json:"timestamp,omitzero"`
	Jobs      map[JobStatus][]JobExecutionSummary `json:"jobs"`
}

// NextExecutionChangedEvent arrives on notify-next when the next pending
// execution changes. An unset Execution means the queue is empty.
type NextExecutionChangedEvent struct {
	Timestamp Optional[Timestamp] `json:"timestamp,omitzero"`
	Execution Optional[JobInfo]   `json:"execution,omitzero"`
}

// RejectedCode is the error code of a rejected response.
type RejectedCode string

// Rejection codes sent by the Jobs service.
const (
	CodeInvalidTopic           RejectedCode = "InvalidTopic"
	CodeInvalidJSON            RejectedCode = "InvalidJson"
	CodeInvalidRequest         RejectedCode = "InvalidRequest"
	CodeInvalidStateTransition RejectedCode = "InvalidStateTransition"
	CodeResourceNotFound       RejectedCode = "ResourceNotFound"
	CodeVersionMismatch        RejectedCode = "VersionMismatch"
	CodeInternalError          RejectedCode = "InternalError"
	CodeRequestThrottled       RejectedCode = "RequestThrottled"
	CodeTerminalStateReached   RejectedCode = "TerminalStateReached"
)

// Rejected is the payload of every */rejected topic.
type Rejected struct {
	Timestamp   Optional[Timestamp]    `json:"timestamp,omitzero"`
	Code        Optional[RejectedCode] `json:"code,omitzero"`
	Message     Optional[string]       `json:"message,omitzero"`
	ClientToken Optional[string]       `json:"clientToken,omitzero"`
}

// Error formats the rejection so it can be logged or returned as an error.
func (r Rejected) Error() string {
	code := r.Code.OrElse("Unknown")
	if msg, ok := r.Message.Get(); ok {
		return "jobs: rejected: " + string(code) + ": " + msg
	}
	return "jobs: rejected: " + string(code)
}
