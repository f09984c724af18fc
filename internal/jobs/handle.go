package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/inomotech-foss/beluga/internal/buffer"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// route binds a response topic to its decoder.
type route struct {
	topic     string
	onMessage mqtt.MessageFunc
}

// handle is the part shared by Client and Job: the retained session, the
// bootstrap subscriptions and the state machine.
type handle struct {
	session    mqtt.Session
	logger     mqtt.Logger
	state      stateManager
	subscribed []string
}

func newHandle(session mqtt.Session, logger mqtt.Logger) *handle {
	if logger == nil {
		logger = mqtt.NopLogger()
	}
	return &handle{session: session, logger: logger}
}

// bootstrap retains the session and subscribes to every route in order.
// On the first synchronous failure it withdraws the subscriptions already
// issued and releases the session, leaving nothing behind.
func (h *handle) bootstrap(qos byte, routes []route, onSubAck func(topic string, err error)) error {
	if err := validateQoS(qos); err != nil {
		return err
	}
	if err := h.session.Retain(); err != nil {
		return fmt.Errorf("%w: %w", ErrBootstrapFailed, err)
	}
	h.state.transition(StateUninitialized, StateBootstrapping)

	issued := make([]string, 0, len(routes))
	for _, r := range routes {
		_, err := h.session.Subscribe(r.topic, qos, r.onMessage, func(_ uint16, topic string, _ byte, err error) {
			onSubAck(topic, err)
		})
		if err != nil {
			h.withdraw(issued)
			h.session.Release()
			h.state.set(StateFailed)
			return fmt.Errorf("%w: subscribe %s: %w", ErrBootstrapFailed, r.topic, err)
		}
		issued = append(issued, r.topic)
	}

	h.subscribed = issued
	h.state.transition(StateBootstrapping, StateReady)
	return nil
}

func (h *handle) withdraw(topics []string) {
	for _, topic := range topics {
		if _, err := h.session.Unsubscribe(topic, nil); err != nil {
			h.logger.Debug("jobs unsubscribe not sent", "topic", topic, "error", err)
		}
	}
}

// close withdraws the bootstrap subscriptions and releases the session.
func (h *handle) close() error {
	if !h.state.transition(StateReady, StateClosed) {
		return ErrClosed
	}
	h.withdraw(h.subscribed)
	h.session.Release()
	return nil
}

// publish encodes req and sends it to topic. The encoded document is
// released once the engine has taken its copy.
func (h *handle) publish(topic string, qos byte, req any, onPublished mqtt.PubAckFunc) error {
	if h.state.get() != StateReady {
		return ErrClosed
	}
	payload, err := encodeRequest(req)
	if err != nil {
		return err
	}
	defer payload.Destroy()

	if _, err := h.session.Publish(topic, qos, false, payload, onPublished); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	h.logger.Debug("jobs request published", "topic", topic)
	return nil
}

// decode returns a MessageFunc that unmarshals payloads into T and hands
// them to fn. Undecodable payloads go to onError. Messages arriving after
// close are dropped.
func decode[T any](h *handle, fn func(T), onError func(topic string, err error)) mqtt.MessageFunc {
	return func(topic string, payload buffer.Buffer) {
		if h.state.get() == StateClosed {
			return
		}
		var v T
		if err := json.Unmarshal(payload.Bytes(), &v); err != nil {
			onError(topic, fmt.Errorf("%w: %s: %w", ErrDecodeResponse, topic, err))
			return
		}
		fn(v)
	}
}
