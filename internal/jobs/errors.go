package jobs

import "errors"

// Domain errors for the jobs package.
var (
	// ErrBootstrapFailed is returned when a handle cannot issue its
	// response subscriptions. No handle is returned with it.
	ErrBootstrapFailed = errors.New("jobs: bootstrap failed")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("jobs: handle closed")

	// ErrInvalidThingName is returned when a thing name is empty or contains
	// characters AWS IoT does not allow.
	ErrInvalidThingName = errors.New("jobs: invalid thing name")

	// ErrInvalidJobID is returned when a job id is empty or malformed.
	ErrInvalidJobID = errors.New("jobs: invalid job id")

	// ErrInvalidStatus is returned when a request carries an unknown
	// JobStatus.
	ErrInvalidStatus = errors.New("jobs: invalid status")

	// ErrPublishFailed is returned when a request could not be sent.
	ErrPublishFailed = errors.New("jobs: publish failed")

	// ErrDecodeResponse is passed to OnResponseError when a response or
	// event payload is not valid JSON for its topic.
	ErrDecodeResponse = errors.New("jobs: undecodable response")
)
