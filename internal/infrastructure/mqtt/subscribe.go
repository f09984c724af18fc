package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers onMessage for a topic filter.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "$aws/things/+/jobs/notify"
//   - # (multi-level): "$aws/things/device-1/#"
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - onMessage: Invoked for each message, in delivery order
//   - onSubAck: Invoked once with the broker's acknowledgement (may be nil)
//
// Returns:
//   - uint16: Correlation id passed to onSubAck, 0 on failure
//   - error: Non-nil exactly when the id is 0; nothing was sent
func (c *Connection) Subscribe(topic string, qos byte, onMessage MessageFunc, onSubAck SubAckFunc) (uint16, error) {
	return c.subscribe([]string{topic}, qos, onMessage, onSubAck)
}

// SubscribeMany subscribes to several filters sharing one QoS and one
// message callback in a single SUBSCRIBE. onSubAck fires once per topic,
// in the order given, each time with the returned id.
func (c *Connection) SubscribeMany(topics []string, qos byte, onMessage MessageFunc, onSubAck SubAckFunc) (uint16, error) {
	return c.subscribe(topics, qos, onMessage, onSubAck)
}

func (c *Connection) subscribe(topics []string, qos byte, onMessage MessageFunc, onSubAck SubAckFunc) (uint16, error) {
	if len(topics) == 0 {
		return 0, fmt.Errorf("%w: %w: no topics", ErrSubscribeFailed, ErrInvalidTopic)
	}
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if err := validateTopicFilter(topic); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		if _, dup := seen[topic]; dup {
			return 0, fmt.Errorf("%w: %w: duplicate filter %q", ErrSubscribeFailed, ErrInvalidTopic, topic)
		}
		seen[topic] = struct{}{}
	}
	if qos > maxQoS {
		return 0, ErrInvalidQoS
	}
	if onMessage == nil {
		return 0, fmt.Errorf("%w: message callback cannot be nil", ErrSubscribeFailed)
	}

	if err := c.begin(); err != nil {
		return 0, err
	}
	if !c.client.IsConnectionOpen() {
		c.inflight.Done()
		return 0, ErrNotConnected
	}

	handler := c.wrapMessage(onMessage)
	var token pahomqtt.Token
	if len(topics) == 1 {
		token = c.client.Subscribe(topics[0], qos, handler)
	} else {
		filters := make(map[string]byte, len(topics))
		for _, topic := range topics {
			filters[topic] = qos
		}
		token = c.client.SubscribeMultiple(filters, handler)
	}
	c.track(topics, qos, handler)

	id := c.ids.next()
	c.complete(token, "suback", func(err error) {
		var granted map[string]byte
		if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			granted = st.Result()
		}

		for _, topic := range topics {
			code, ok := granted[topic]
			if !ok {
				code = qos
			}
			topicErr := err
			switch {
			case topicErr != nil:
				topicErr = fmt.Errorf("%w: %w", ErrSubscribeFailed, topicErr)
			case code == subAckFailure:
				topicErr = ErrSubscriptionRejected
			}
			if topicErr != nil {
				c.untrack(topic)
			}
			if onSubAck != nil {
				c.safeCall("suback", topic, func() {
					onSubAck(id, topic, code, topicErr)
				})
			}
		}
	})

	return id, nil
}

// Unsubscribe removes a subscription.
//
// After the acknowledgement, onMessage for this filter will no longer be
// called for new messages. Messages in flight may still be delivered.
//
// Returns:
//   - uint16: Correlation id passed to onUnsubAck, 0 on failure
//   - error: Non-nil exactly when the id is 0; nothing was sent
func (c *Connection) Unsubscribe(topic string, onUnsubAck UnsubAckFunc) (uint16, error) {
	if err := validateTopicFilter(topic); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	if err := c.begin(); err != nil {
		return 0, err
	}
	if !c.client.IsConnectionOpen() {
		c.inflight.Done()
		return 0, ErrNotConnected
	}

	c.untrack(topic)
	token := c.client.Unsubscribe(topic)

	id := c.ids.next()
	c.complete(token, "unsuback", func(err error) {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
		}
		if onUnsubAck != nil {
			onUnsubAck(id, err)
		}
	})

	return id, nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Connection) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact filter.
func (c *Connection) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}

func (c *Connection) track(topics []string, qos byte, handler pahomqtt.MessageHandler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, topic := range topics {
		c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	}
}

func (c *Connection) untrack(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}
