package jobs

import (
	"fmt"

	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// Client is the thing-scoped Jobs handle.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handler methods run on MQTT engine goroutines.
type Client struct {
	*handle
	thingName string
	topics    Topics
	handler   ClientHandler
}

// NewClient subscribes to the thing-level Jobs topics and returns a ready
// Client.
//
// Subscriptions are issued in this order: get-pending accepted/rejected,
// start-next accepted/rejected, notify, notify-next. Broker answers arrive
// through handler.OnSubscribeCompleted.
//
// Parameters:
//   - session: The MQTT connection; retained until Close
//   - thingName: AWS IoT thing name
//   - qos: QoS of the response subscriptions
//   - handler: Receives responses and events (required)
//   - logger: May be nil
//
// Returns:
//   - *Client: Ready handle, nil on error
//   - error: Wraps ErrBootstrapFailed if any subscription could not be
//     issued; the ones already issued have been withdrawn
func NewClient(session mqtt.Session, thingName string, qos byte, handler ClientHandler, logger mqtt.Logger) (*Client, error) {
	if err := ValidateThingName(thingName); err != nil {
		return nil, err
	}
	if session == nil || handler == nil {
		return nil, fmt.Errorf("%w: session and handler are required", ErrBootstrapFailed)
	}

	c := &Client{
		handle:    newHandle(session, logger),
		thingName: thingName,
		topics:    NewTopics(thingName),
		handler:   handler,
	}

	onErr := handler.OnResponseError
	routes := []route{
		{c.topics.GetPending(SuffixAccepted), decode(c.handle, handler.OnGetPendingExecutionsAccepted, onErr)},
		{c.topics.GetPending(SuffixRejected), decode(c.handle, handler.OnGetPendingExecutionsRejected, onErr)},
		{c.topics.StartNext(SuffixAccepted), decode(c.handle, handler.OnStartNextPendingExecutionAccepted, onErr)},
		{c.topics.StartNext(SuffixRejected), decode(c.handle, handler.OnStartNextPendingExecutionRejected, onErr)},
		{c.topics.Notify(), decode(c.handle, handler.OnExecutionsChanged, onErr)},
		{c.topics.NotifyNext(), decode(c.handle, handler.OnNextExecutionChanged, onErr)},
	}

	if err := c.bootstrap(qos, routes, handler.OnSubscribeCompleted); err != nil {
		c.logger.Warn("jobs client bootstrap failed", "thing", thingName, "error", err)
		return nil, err
	}

	c.logger.Info("jobs client ready", "thing", thingName)
	return c, nil
}

// PublishGetPendingExecutions asks for the pending executions of the
// thing. The answer arrives on OnGetPendingExecutionsAccepted or
// OnGetPendingExecutionsRejected; onPublished (may be nil) receives the
// publish completion.
func (c *Client) PublishGetPendingExecutions(qos byte, onPublished mqtt.PubAckFunc, opts ...RequestOption) error {
	var req GetPendingRequest
	for _, opt := range opts {
		opt(&req)
	}
	return c.publish(c.topics.GetPending(SuffixRequest), qos, req, onPublished)
}

// PublishStartNextPendingExecution starts the next pending execution and
// moves it to IN_PROGRESS.
func (c *Client) PublishStartNextPendingExecution(qos byte, onPublished mqtt.PubAckFunc, req StartNextRequest) error {
	return c.publish(c.topics.StartNext(SuffixRequest), qos, req, onPublished)
}

// State returns the lifecycle state.
func (c *Client) State() State {
	return c.state.get()
}

// ThingName returns the thing the client is scoped to.
func (c *Client) ThingName() string {
	return c.thingName
}

// Close withdraws the six subscriptions and releases the session. A
// second call returns ErrClosed.
func (c *Client) Close() error {
	if err := c.close(); err != nil {
		return err
	}
	c.logger.Info("jobs client closed", "thing", c.thingName)
	return nil
}
