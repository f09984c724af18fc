package agent

import "errors"

// Domain-specific errors for the agent.
var (
	// ErrInvalidOptions is returned by New when a required option is
	// missing.
	ErrInvalidOptions = errors.New("agent: invalid options")

	// ErrConnectFailed is returned by Run when the first MQTT connect
	// attempt fails.
	ErrConnectFailed = errors.New("agent: mqtt connect failed")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("agent: already running")
)
