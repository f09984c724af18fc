package provision

import "errors"

// Domain errors for the provision package.
var (
	// ErrInvalidFormat is returned for a payload format other than json
	// or cbor.
	ErrInvalidFormat = errors.New("provision: invalid payload format")

	// ErrInvalidQoS is returned for a QoS other than 0 or 1.
	ErrInvalidQoS = errors.New("provision: invalid QoS (must be 0 or 1)")

	// ErrInvalidTemplate is returned when a template name is empty or
	// malformed.
	ErrInvalidTemplate = errors.New("provision: invalid template name")

	// ErrInvalidRequest is returned when a request lacks a required field.
	ErrInvalidRequest = errors.New("provision: invalid request")

	// ErrSubscribeFailed is returned when the accepted or rejected topic
	// of a request could not be subscribed.
	ErrSubscribeFailed = errors.New("provision: subscribe failed")

	// ErrPublishFailed is returned when a request could not be sent.
	ErrPublishFailed = errors.New("provision: publish failed")

	// ErrNoResponse is returned when the context ends before an answer
	// arrives.
	ErrNoResponse = errors.New("provision: no response")

	// ErrDecodeResponse is returned when an answer does not decode in the
	// client's format.
	ErrDecodeResponse = errors.New("provision: undecodable response")

	// ErrRejected matches every Rejected error with errors.Is.
	ErrRejected = errors.New("provision: rejected")
)
