package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/inomotech-foss/beluga/internal/buffer"
)

// GetPendingRequest is the body of a get-pending-executions request.
type GetPendingRequest struct {
	ClientToken Optional[string] `json:"clientToken,omitzero"`
}

// RequestOption adjusts a GetPendingRequest.
type RequestOption func(*GetPendingRequest)

// WithClientToken sets the token echoed back in the response.
func WithClientToken(token string) RequestOption {
	return func(r *GetPendingRequest) {
		r.ClientToken = Some(token)
	}
}

// StartNextRequest is the body of a start-next-pending-execution request.
type StartNextRequest struct {
	StepTimeoutInMinutes Optional[int64]         `json:"stepTimeoutInMinutes,omitzero"`
	StatusDetails        Optional[StatusDetails] `json:"statusDetails,omitzero"`
	ClientToken          Optional[string]        `json:"clientToken,omitzero"`
}

// DescribeRequest is the body of a describe-execution request.
//
// JobID is not encoded. When set it replaces the job id of the handle in
// the request topic.
type DescribeRequest struct {
	ExecutionNumber    Optional[int64]  `json:"executionNumber,omitzero"`
	IncludeJobDocument Optional[bool]   `json:"includeJobDocument,omitzero"`
	JobID              Optional[string] `json:"-"`
	ClientToken        Optional[string] `json:"clientToken,omitzero"`
}

// UpdateRequest is the body of an update-execution request.
//
// JobID is not encoded. When set it replaces the job id of the handle in
// the request topic.
type UpdateRequest struct {
	ExecutionNumber          Optional[int64]         `json:"executionNumber,omitzero"`
	ExpectedVersion          Optional[int64]         `json:"expectedVersion,omitzero"`
	IncludeJobDocument       Optional[bool]          `json:"includeJobDocument,omitzero"`
	IncludeJobExecutionState Optional[bool]          `json:"includeJobExecutionState,omitzero"`
	JobID                    Optional[string]        `json:"-"`
	Status                   Optional[JobStatus]     `json:"status,omitzero"`
	StatusDetails            Optional[StatusDetails] `json:"statusDetails,omitzero"`
	StepTimeoutInMinutes     Optional[int64]         `json:"stepTimeoutInMinutes,omitzero"`
	ClientToken              Optional[string]        `json:"clientToken,omitzero"`
}

func (r UpdateRequest) validate() error {
	if status, ok := r.Status.Get(); ok && !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if id, ok := r.JobID.Get(); ok {
		return validateJobID(id)
	}
	return nil
}

// NewClientToken returns a fresh random token for correlating a request
// with its response.
func NewClientToken() string {
	return uuid.NewString()
}

// encodeRequest serializes a request document into an Owned buffer.
func encodeRequest(v any) (buffer.Buffer, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return buffer.Buffer{}, fmt.Errorf("%w: encoding request: %w", ErrPublishFailed, err)
	}
	return buffer.FromBytes(data), nil
}
