package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned by Connect when the configuration is
	// rejected before any network I/O.
	ErrInvalidConfig = errors.New("mqtt: invalid configuration")

	// ErrNotConnected is returned when attempting operations on a session
	// that is not open.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrClosed is returned when the connection has been closed.
	ErrClosed = errors.New("mqtt: connection closed")

	// ErrConnectionFailed wraps engine errors reported for a connect attempt.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrSubscriptionRejected is delivered to a sub-ack callback when the
	// broker refused a topic (return code 0x80).
	ErrSubscriptionRejected = errors.New("mqtt: subscription rejected by broker")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
