package tunnel

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/inomotech-foss/beluga/internal/buffer"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// Mode is the role of the local end of a tunnel.
type Mode string

// Tunnel modes.
const (
	ModeSource      Mode = "source"
	ModeDestination Mode = "destination"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSource || m == ModeDestination
}

// Notification is published by AWS IoT on the notify topic when a tunnel
// is opened for the thing.
type Notification struct {
	ClientAccessToken string   `json:"clientAccessToken"`
	ClientMode        Mode     `json:"clientMode"`
	Region            string   `json:"region"`
	Services          []string `json:"services"`
}

// NotifyTopic returns the tunnel notification topic of thingName.
//
// Example: $aws/things/device-1/tunnels/notify
func NotifyTopic(thingName string) string {
	return fmt.Sprintf("$aws/things/%s/tunnels/notify", thingName)
}

// NotifyHandler receives the events of a NotifyClient.
type NotifyHandler interface {
	// OnSubscribeCompleted reports the broker's answer to the notify
	// subscription.
	OnSubscribeCompleted(err error)

	// OnTunnelNotification delivers a decoded notification.
	OnTunnelNotification(n Notification)

	// OnNotificationError reports a payload that could not be decoded.
	OnNotificationError(err error)
}

// NotifyFuncs adapts optional functions to NotifyHandler.
type NotifyFuncs struct {
	SubscribeCompleted func(err error)
	Notification       func(n Notification)
	NotificationError  func(err error)
}

var _ NotifyHandler = NotifyFuncs{}

func (f NotifyFuncs) OnSubscribeCompleted(err error) {
	if f.SubscribeCompleted != nil {
		f.SubscribeCompleted(err)
	}
}

func (f NotifyFuncs) OnTunnelNotification(n Notification) {
	if f.Notification != nil {
		f.Notification(n)
	}
}

func (f NotifyFuncs) OnNotificationError(err error) {
	if f.NotificationError != nil {
		f.NotificationError(err)
	}
}

// NotifyClient subscribes to the tunnel notifications of one thing.
type NotifyClient struct {
	session   mqtt.Session
	thingName string
	topic     string
	handler   NotifyHandler
	logger    mqtt.Logger
	closed    atomic.Bool
}

// NewNotifyClient subscribes to $aws/things/{thingName}/tunnels/notify.
//
// It fails, retaining nothing, when the subscription cannot be issued.
// The broker's answer arrives on handler.OnSubscribeCompleted.
func NewNotifyClient(session mqtt.Session, thingName string, qos byte, handler NotifyHandler, logger mqtt.Logger) (*NotifyClient, error) {
	if thingName == "" || session == nil || handler == nil {
		return nil, fmt.Errorf("%w: thing name, session and handler are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = mqtt.NopLogger()
	}

	c := &NotifyClient{
		session:   session,
		thingName: thingName,
		topic:     NotifyTopic(thingName),
		handler:   handler,
		logger:    logger,
	}

	if err := session.Retain(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	_, err := session.Subscribe(c.topic, qos, c.onMessage, func(_ uint16, _ string, _ byte, err error) {
		handler.OnSubscribeCompleted(err)
	})
	if err != nil {
		session.Release()
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, c.topic, err)
	}

	logger.Info("tunnel notify client ready", "thing", thingName)
	return c, nil
}

func (c *NotifyClient) onMessage(_ string, payload buffer.Buffer) {
	if c.closed.Load() {
		return
	}
	var n Notification
	if err := json.Unmarshal(payload.Bytes(), &n); err != nil {
		c.handler.OnNotificationError(fmt.Errorf("%w: %w", ErrMalformedNotification, err))
		return
	}
	c.logger.Info("tunnel notification received",
		"thing", c.thingName,
		"region", n.Region,
		"mode", n.ClientMode,
		"services", n.Services,
	)
	c.handler.OnTunnelNotification(n)
}

// ThingName returns the thing the client listens for.
func (c *NotifyClient) ThingName() string {
	return c.thingName
}

// Close withdraws the subscription and releases the session.
func (c *NotifyClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if _, err := c.session.Unsubscribe(c.topic, nil); err != nil {
		c.logger.Debug("tunnel notify unsubscribe not sent", "topic", c.topic, "error", err)
	}
	c.session.Release()
	return nil
}
