package mqtt

import (
	"bytes"
	"fmt"

	"github.com/inomotech-foss/beluga/internal/buffer"
)

// Publish sends payload to topic.
//
// The engine receives its own copy of the bytes, so the caller may
// Destroy an Owned payload as soon as Publish returns.
//
// Parameters:
//   - topic: The topic to publish to (no wildcards)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retain: Whether the broker should retain the message
//   - payload: Message body, at most 128 KiB
//   - onPubAck: Invoked once with the completion (may be nil)
//
// Returns:
//   - uint16: Correlation id passed to onPubAck, 0 on failure
//   - error: Non-nil exactly when the id is 0; nothing was sent
func (c *Connection) Publish(topic string, qos byte, retain bool, payload buffer.Buffer, onPubAck PubAckFunc) (uint16, error) {
	if err := validateTopicName(topic); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	if payload.Len() > maxPayloadSize {
		return 0, fmt.Errorf("%w: %w: %d bytes exceeds maximum %d", ErrPublishFailed, ErrPayloadTooLarge, payload.Len(), maxPayloadSize)
	}

	if err := c.begin(); err != nil {
		return 0, err
	}
	if !c.client.IsConnectionOpen() {
		c.inflight.Done()
		return 0, ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retain, bytes.Clone(payload.Bytes()))

	id := c.ids.next()
	c.complete(token, "puback", func(err error) {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		if onPubAck != nil {
			onPubAck(id, err)
		}
	})

	return id, nil
}
