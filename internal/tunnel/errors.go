package tunnel

import "errors"

// Domain errors for the tunnel package.
var (
	// ErrInvalidConfig is returned by New when the tunnel cannot be
	// configured (no access token, no region or endpoint, unknown mode).
	ErrInvalidConfig = errors.New("tunnel: invalid config")

	// ErrAlreadyStarted is returned by Start on a tunnel that has been
	// started before.
	ErrAlreadyStarted = errors.New("tunnel: already started")

	// ErrNotStarted is returned by operations that need an open websocket.
	ErrNotStarted = errors.New("tunnel: not started")

	// ErrConnectionFailed is passed to OnConnectionFailure when the
	// websocket could not be opened.
	ErrConnectionFailed = errors.New("tunnel: connection failed")

	// ErrStreamNotFound is returned when no stream is open for a
	// connection id.
	ErrStreamNotFound = errors.New("tunnel: stream not found")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("tunnel: payload too large")

	// ErrUnknownService is returned when a stream is requested for a
	// service the tunnel does not offer.
	ErrUnknownService = errors.New("tunnel: unknown service")

	// ErrWrongMode is returned when an operation is not available in the
	// tunnel's mode.
	ErrWrongMode = errors.New("tunnel: operation not available in this mode")

	// ErrMalformedFrame is returned when a frame cannot be decoded.
	ErrMalformedFrame = errors.New("tunnel: malformed frame")

	// ErrMalformedNotification is passed to OnNotificationError when a
	// notify payload is not valid JSON.
	ErrMalformedNotification = errors.New("tunnel: malformed notification")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("tunnel: closed")

	// ErrSubscribeFailed is returned when the notify subscription cannot
	// be issued.
	ErrSubscribeFailed = errors.New("tunnel: subscribe failed")
)
