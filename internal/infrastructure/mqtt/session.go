package mqtt

import "github.com/inomotech-foss/beluga/internal/buffer"

// Session is the subset of *Connection that protocol clients build on.
// Jobs and tunnel-notify handles depend on Session so they can be tested
// against a scripted transport.
type Session interface {
	Subscribe(topic string, qos byte, onMessage MessageFunc, onSubAck SubAckFunc) (uint16, error)
	Unsubscribe(topic string, onUnsubAck UnsubAckFunc) (uint16, error)
	Publish(topic string, qos byte, retain bool, payload buffer.Buffer, onPubAck PubAckFunc) (uint16, error)

	// Retain adds a reference held by a derived handle. It fails with
	// ErrClosed once the session has been torn down.
	Retain() error

	// Release drops a reference taken with Retain.
	Release()
}

var _ Session = (*Connection)(nil)
