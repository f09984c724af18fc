package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/inomotech-foss/beluga/internal/infrastructure/config"
)

// Connection owns one MQTT session.
//
// A Connection is shared: derived handles (Jobs clients, tunnel clients)
// call Retain when they are built and Release when they are closed. The
// session is torn down once the owner has called Close and every derived
// handle has been released.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks run on engine goroutines.
type Connection struct {
	client  pahomqtt.Client
	cfg     config.MQTTConfig
	handler LifecycleHandler
	logger  Logger

	ids packetIDs

	// subscriptions tracks active filters for restoration when a clean
	// session is resumed.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// mu guards closed against inflight.Add so teardown never races a
	// new operation.
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	done     chan struct{}

	refs          atomic.Int32
	ownerClosed   atomic.Bool
	connects      atomic.Int64
	disconnecting atomic.Bool
}

// subscription holds subscription details for re-subscription on resume.
type subscription struct {
	qos     byte
	handler pahomqtt.MessageHandler
}

// Connect validates cfg and starts connecting to the broker.
//
// Configuration problems (no auth mode, both auth modes, unreadable
// certificate) are returned synchronously, wrapped in ErrInvalidConfig,
// before any network I/O. Otherwise the connect attempt runs in the
// background and its outcome is delivered to
// handler.OnConnectionCompleted.
//
// Parameters:
//   - cfg: MQTT session configuration
//   - handler: Receives lifecycle events (may be nil)
//   - logger: Receives callback panics and engine diagnostics (may be nil)
//
// Returns:
//   - *Connection: Handle owning the session; release it with Close
//   - error: If the configuration is rejected
func Connect(cfg config.MQTTConfig, handler LifecycleHandler, logger Logger) (*Connection, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	if handler == nil {
		handler = LifecycleFuncs{}
	}
	if logger == nil {
		logger = NopLogger()
	}

	c := &Connection{
		cfg:           cfg,
		handler:       handler,
		logger:        logger,
		subscriptions: make(map[string]subscription),
		done:          make(chan struct{}),
	}
	c.refs.Store(1)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Debug("mqtt reconnecting", "client_id", cfg.ClientID)
	})

	c.client = pahomqtt.NewClient(opts)

	if err := c.begin(); err != nil {
		return nil, err
	}
	token := c.client.Connect()
	c.complete(token, "connect", func(err error) {
		var returnCode byte
		var sessionPresent bool
		if ct, ok := token.(*pahomqtt.ConnectToken); ok {
			returnCode = ct.ReturnCode()
			sessionPresent = ct.SessionPresent()
		}
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		c.handler.OnConnectionCompleted(err, returnCode, sessionPresent)
	})

	return c, nil
}

// handleConnect runs on every successful connect. The first one is
// reported through the connect token; later ones are resumptions.
func (c *Connection) handleConnect() {
	if c.connects.Add(1) == 1 {
		return
	}
	if c.isClosed() {
		return
	}

	if c.cfg.CleanSession {
		c.restoreSubscriptions()
	}

	// paho does not expose the CONNACK of automatic reconnects.
	c.safeCall("resumed", "", func() {
		c.handler.OnConnectionResumed(0, false)
	})
}

// handleConnectionLost is called when an established session drops.
func (c *Connection) handleConnectionLost(err error) {
	if c.isClosed() {
		return
	}
	c.safeCall("interrupted", "", func() {
		c.handler.OnConnectionInterrupted(err)
	})
}

// restoreSubscriptions re-subscribes to all tracked filters after a clean
// session resumes. Completions are logged only.
func (c *Connection) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		token := c.client.Subscribe(topic, sub.qos, sub.handler)
		go func(topic string) {
			<-token.Done()
			if err := token.Error(); err != nil {
				c.logger.Warn("mqtt resubscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// Disconnect closes the session asynchronously. OnConnectionClosed fires
// once the engine has stopped. A Disconnect issued while another is in
// progress is a no-op.
func (c *Connection) Disconnect() error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.disconnecting.CompareAndSwap(false, true) {
		return nil
	}

	go func() {
		defer c.disconnecting.Store(false)
		c.client.Disconnect(defaultDisconnectQuiesce)
		c.safeCall("closed", "", c.handler.OnConnectionClosed)
	}()
	return nil
}

// Close drops the owner's reference. The session is torn down when no
// derived handle holds the connection any more. A second Close returns
// ErrClosed.
func (c *Connection) Close() error {
	if !c.ownerClosed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.Release()
	return nil
}

// Retain adds a reference for a derived handle. It fails with ErrClosed
// once the connection has been torn down.
func (c *Connection) Retain() error {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return ErrClosed
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference taken with Retain.
func (c *Connection) Release() {
	if c.refs.Add(-1) == 0 {
		c.teardown()
	}
}

// teardown stops the engine. In-flight completions still fire (with an
// error) and Done is closed once they have all returned.
func (c *Connection) teardown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.client.Disconnect(defaultDisconnectQuiesce)

	go func() {
		c.inflight.Wait()
		close(c.done)
	}()
}

// Done is closed after teardown once every completion callback has run.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ClientID returns the session's client identifier.
func (c *Connection) ClientID() string {
	return c.cfg.ClientID
}

// IsConnected reports whether the session is currently open.
func (c *Connection) IsConnected() bool {
	return !c.isClosed() && c.client.IsConnectionOpen()
}

// HealthCheck verifies the MQTT session is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Connection) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if c.isClosed() {
		return ErrClosed
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
