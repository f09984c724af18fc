package mqtt

import (
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/inomotech-foss/beluga/internal/buffer"
)

// subAckFailure is the SUBACK return code for a refused filter.
const subAckFailure = 0x80

// MessageFunc receives messages for a subscription. The payload is a
// Borrowed view valid only until the function returns.
type MessageFunc func(topic string, payload buffer.Buffer)

// SubAckFunc receives one acknowledgement per subscribed topic. qos is the
// granted level, or 0x80 when the broker refused the filter.
type SubAckFunc func(packetID uint16, topic string, qos byte, err error)

// UnsubAckFunc receives the acknowledgement of an Unsubscribe.
type UnsubAckFunc func(packetID uint16, err error)

// PubAckFunc receives the completion of a Publish. For QoS 0 it fires once
// the message has been written.
type PubAckFunc func(packetID uint16, err error)

// begin registers an operation with the in-flight group. Every successful
// begin is matched by exactly one inflight.Done, either through complete
// or on a synchronous failure path.
func (c *Connection) begin() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	c.inflight.Add(1)
	return nil
}

// complete waits for token in its own goroutine and fires fn exactly once
// with the engine's error.
func (c *Connection) complete(token pahomqtt.Token, kind string, fn func(err error)) {
	go func() {
		defer c.inflight.Done()
		<-token.Done()
		c.safeCall(kind, "", func() {
			fn(token.Error())
		})
	}()
}

// wrapMessage adapts a MessageFunc to paho, adding panic recovery and
// dropping messages after teardown.
func (c *Connection) wrapMessage(fn MessageFunc) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if c.isClosed() {
			return
		}
		c.safeCall("message", msg.Topic(), func() {
			fn(msg.Topic(), buffer.Borrow(msg.Payload()))
		})
	}
}

// safeCall runs a user callback, recovering and logging panics.
func (c *Connection) safeCall(kind, topic string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("mqtt callback panic recovered",
				"callback", kind,
				"topic", topic,
				"panic", r,
			)
		}
	}()
	fn()
}
