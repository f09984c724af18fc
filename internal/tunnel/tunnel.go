package tunnel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/inomotech-foss/beluga/internal/buffer"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// Connection defaults.
const (
	// Subprotocol is the websocket subprotocol of the tunneling service.
	Subprotocol = "aws.iot.securetunneling-3.0"

	defaultPingInterval     = 30 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
	pongWait                = 10 * time.Second
	writeWait               = 10 * time.Second
	closeGracePeriod        = time.Second
	sendQueueSize           = 64

	// maxMessageSize bounds one websocket message. A message carries one
	// or more frames.
	maxMessageSize = 4 * (frameHeaderSize + maxFrameSize)
)

// Config describes one tunnel connection.
type Config struct {
	// AccessToken is the client access token from the notification.
	AccessToken string

	// Region selects the public endpoint
	// data.tunneling.iot.{Region}.amazonaws.com. Ignored when Endpoint is
	// set.
	Region string

	// Endpoint overrides the service address. A bare host gets wss://.
	Endpoint string

	// Mode is the local role. Defaults to destination.
	Mode Mode

	// ClientToken identifies this client to the service. A random token
	// is generated when empty.
	ClientToken string

	// Dialer is copied and given the tunneling subprotocol. Nil uses a
	// dialer with a 30 second handshake timeout.
	Dialer *websocket.Dialer

	// PingInterval between websocket pings. Defaults to 30 seconds.
	PingInterval time.Duration
}

// ConfigFromNotification returns the Config for a tunnel notification.
func ConfigFromNotification(n Notification) Config {
	return Config{
		AccessToken: n.ClientAccessToken,
		Region:      n.Region,
		Mode:        n.ClientMode,
	}
}

func (c Config) endpointURL() (string, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("data.tunneling.iot.%s.amazonaws.com", c.Region)
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "wss://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/tunnel"
	u.RawQuery = url.Values{"local-proxy-mode": {string(c.Mode)}}.Encode()
	return u.String(), nil
}

type state uint32

const (
	stateIdle state = iota
	stateConnecting
	stateConnected
	stateStopped
)

// outbound is a frame waiting for the write loop.
type outbound struct {
	frame []byte
	kind  MessageType
}

// Tunnel is one websocket connection to the tunneling service.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handler methods run on the read loop (stream events) and the write
//     loop (send completions). Stop must not be called from a handler.
type Tunnel struct {
	cfg     Config
	url     string
	dialer  websocket.Dialer
	handler Handler
	logger  mqtt.Logger

	streams *streamTable
	state   atomic.Uint32
	stopped atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// sendMu guards accepting against the final drain of sendQ.
	sendMu    sync.RWMutex
	accepting bool
	sendQ     chan outbound
}

// New validates cfg and returns an idle Tunnel. Nothing is dialed until
// Start.
func New(cfg Config, handler Handler, logger mqtt.Logger) (*Tunnel, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidConfig)
	}
	if cfg.Region == "" && cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: region or endpoint is required", ErrInvalidConfig)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDestination
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("%w: mode %q", ErrInvalidConfig, cfg.Mode)
	}
	if cfg.ClientToken == "" {
		cfg.ClientToken = uuid.NewString()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	target, err := cfg.endpointURL()
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint: %w", ErrInvalidConfig, err)
	}
	if handler == nil {
		handler = Handlers{}
	}
	if logger == nil {
		logger = mqtt.NopLogger()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
	if cfg.Dialer != nil {
		dialer = *cfg.Dialer
	}
	dialer.Subprotocols = []string{Subprotocol}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tunnel{
		cfg:       cfg,
		url:       target,
		dialer:    dialer,
		handler:   handler,
		logger:    logger,
		streams:   newStreamTable(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		accepting: true,
		sendQ:     make(chan outbound, sendQueueSize),
	}, nil
}

// Start dials the service in the background. The outcome arrives on
// OnConnectionFailure, or on OnConnectionSuccess once the service
// announces its service ids. A tunnel can be started once.
func (t *Tunnel) Start() error {
	if !t.state.CompareAndSwap(uint32(stateIdle), uint32(stateConnecting)) {
		return ErrAlreadyStarted
	}
	t.logger.Info("tunnel starting", "mode", t.cfg.Mode, "client_token", t.cfg.ClientToken)
	go t.run()
	return nil
}

// Stop sends a websocket close and waits for the read and write loops to
// exit. A second Stop returns ErrClosed.
func (t *Tunnel) Stop() error {
	if state(t.state.Load()) == stateIdle {
		return ErrNotStarted
	}
	if !t.stopped.CompareAndSwap(false, true) {
		return ErrClosed
	}
	t.cancel()
	<-t.done
	return nil
}

// Done is closed once a started tunnel has fully shut down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// Mode returns the local role.
func (t *Tunnel) Mode() Mode {
	return t.cfg.Mode
}

// ClientToken returns the token sent to the service.
func (t *Tunnel) ClientToken() string {
	return t.cfg.ClientToken
}

// Streams returns the open streams ordered by connection id.
func (t *Tunnel) Streams() []Stream {
	return t.streams.snapshot()
}

// SendMessage queues payload as stream data on connectionID. The payload
// is copied before SendMessage returns. The write result arrives on
// OnSendMessageComplete.
func (t *Tunnel) SendMessage(connectionID uint32, payload buffer.Buffer) error {
	if payload.Len() > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, payload.Len(), MaxPayloadSize)
	}
	if state(t.state.Load()) != stateConnected {
		return ErrNotStarted
	}
	s, ok := t.streams.get(connectionID)
	if !ok {
		return fmt.Errorf("%w: connection %d", ErrStreamNotFound, connectionID)
	}

	return t.enqueue(&Message{
		Type:         TypeData,
		StreamID:     s.StreamID,
		ServiceID:    s.ServiceID,
		ConnectionID: connectionID,
		Payload:      payload.Bytes(),
	})
}

// StartStream opens a stream to serviceID on connectionID. It is only
// available in source mode. Connection id 1 starts a new stream; higher
// ids add a connection to the service's current stream.
func (t *Tunnel) StartStream(serviceID string, connectionID uint32) error {
	if t.cfg.Mode != ModeSource {
		return ErrWrongMode
	}
	if state(t.state.Load()) != stateConnected {
		return ErrNotStarted
	}
	if !t.streams.hasService(serviceID) {
		return fmt.Errorf("%w: %q", ErrUnknownService, serviceID)
	}
	if connectionID == 0 {
		connectionID = 1
	}

	msg := Message{ServiceID: serviceID, ConnectionID: connectionID}
	if active, ok := t.streams.activeStreamID(serviceID); ok && connectionID > 1 {
		msg.Type = TypeConnectionStart
		msg.StreamID = active
	} else {
		msg.Type = TypeStreamStart
		msg.StreamID = active + 1
	}

	t.streams.open(Stream{ConnectionID: connectionID, ServiceID: serviceID, StreamID: msg.StreamID})
	return t.enqueue(&msg)
}

// ResetStream closes connectionID locally and tells the peer.
func (t *Tunnel) ResetStream(connectionID uint32) error {
	if state(t.state.Load()) != stateConnected {
		return ErrNotStarted
	}
	s, ok := t.streams.close(connectionID)
	if !ok {
		return fmt.Errorf("%w: connection %d", ErrStreamNotFound, connectionID)
	}
	return t.enqueue(&Message{
		Type:         TypeConnectionReset,
		StreamID:     s.StreamID,
		ServiceID:    s.ServiceID,
		ConnectionID: connectionID,
	})
}

func (t *Tunnel) enqueue(msg *Message) error {
	frame, err := appendFrame(nil, msg)
	if err != nil {
		return err
	}

	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	if !t.accepting {
		return ErrNotStarted
	}
	select {
	case t.sendQ <- outbound{frame: frame, kind: msg.Type}:
		return nil
	case <-t.ctx.Done():
		return ErrNotStarted
	}
}

// failPending stops accepting frames and completes every queued one with
// err.
func (t *Tunnel) failPending(err error) {
	t.sendMu.Lock()
	t.accepting = false
	t.sendMu.Unlock()

	for {
		select {
		case ob := <-t.sendQ:
			t.handler.OnSendMessageComplete(err, ob.kind)
		default:
			return
		}
	}
}

// run owns the websocket for the lifetime of the tunnel.
func (t *Tunnel) run() {
	defer close(t.done)

	header := http.Header{}
	header.Set("access-token", t.cfg.AccessToken)
	header.Set("client-token", t.cfg.ClientToken)

	conn, resp, err := t.dialer.DialContext(t.ctx, t.url, header)
	if err != nil {
		t.state.Store(uint32(stateStopped))
		t.cancel()
		t.failPending(ErrNotStarted)
		if t.ctx.Err() != nil && t.stopped.Load() {
			t.logger.Debug("tunnel dial cancelled")
			return
		}
		if resp != nil {
			err = fmt.Errorf("%w: HTTP %d: %w", ErrConnectionFailed, resp.StatusCode, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		t.logger.Warn("tunnel connection failed", "error", err)
		t.handler.OnConnectionFailure(err)
		return
	}

	t.state.Store(uint32(stateConnected))
	t.logger.Info("tunnel connected", "subprotocol", conn.Subprotocol())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		t.writeLoop(conn)
	}()
	wg.Wait()

	_ = conn.Close() //nolint:errcheck // Both loops have exited
	t.state.Store(uint32(stateStopped))
	t.cancel()
	t.failPending(ErrClosed)
	if n := t.streams.clear(); n > 0 {
		t.logger.Debug("tunnel streams dropped on shutdown", "streams", n)
	}

	t.logger.Info("tunnel shut down")
	t.handler.OnConnectionShutdown()
}

// readLoop decodes frames until the websocket fails or closes.
func (t *Tunnel) readLoop(conn *websocket.Conn) {
	defer t.cancel()

	conn.SetReadLimit(maxMessageSize)
	deadline := t.cfg.PingInterval + pongWait
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	var frames frameReader
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("tunnel read error", "error", err)
			} else {
				t.logger.Debug("tunnel websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(deadline))

		frames.feed(data)
		for {
			msg, ok, err := frames.next()
			if err != nil {
				t.logger.Warn("tunnel frame dropped", "error", err)
				continue
			}
			if !ok {
				break
			}
			t.dispatch(&msg)
		}
	}
}

// writeLoop serializes queued frames and keepalive pings.
func (t *Tunnel) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ob := <-t.sendQ:
			//nolint:errcheck // Best-effort deadline; write error caught below
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.BinaryMessage, ob.frame)
			if err != nil {
				err = fmt.Errorf("tunnel write: %w", err)
			}
			t.handler.OnSendMessageComplete(err, ob.kind)
			if err != nil {
				t.cancel()
				_ = conn.Close() //nolint:errcheck // Unblocks the read loop
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.cancel()
				_ = conn.Close() //nolint:errcheck // Unblocks the read loop
				return
			}
		case <-t.ctx.Done():
			//nolint:errcheck // Best-effort close handshake
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			//nolint:errcheck // The read loop exits on the peer's close or this deadline
			conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
			return
		}
	}
}

// dispatch applies one received message to the stream table and raises
// the matching handler event.
func (t *Tunnel) dispatch(msg *Message) {
	// Peers speaking protocol v1/v2 omit the connection id.
	connID := msg.ConnectionID
	if connID == 0 {
		connID = 1
	}

	switch msg.Type {
	case TypeData:
		s, ok := t.streams.get(connID)
		if !ok || s.StreamID != msg.StreamID || s.ServiceID != msg.ServiceID {
			t.logger.Debug("tunnel data for unknown stream dropped",
				"connection_id", connID,
				"stream_id", msg.StreamID,
				"service_id", msg.ServiceID,
			)
			return
		}
		t.handler.OnMessageReceived(connID, buffer.Borrow(msg.Payload), msg.ServiceID)

	case TypeStreamStart:
		t.streams.open(Stream{ConnectionID: connID, ServiceID: msg.ServiceID, StreamID: msg.StreamID})
		t.handler.OnStreamStarted(connID, msg.ServiceID)

	case TypeConnectionStart:
		if active, ok := t.streams.activeStreamID(msg.ServiceID); ok && active != msg.StreamID {
			t.logger.Debug("tunnel connection start for stale stream dropped",
				"connection_id", connID,
				"stream_id", msg.StreamID,
				"active_stream_id", active,
			)
			return
		}
		t.streams.open(Stream{ConnectionID: connID, ServiceID: msg.ServiceID, StreamID: msg.StreamID})
		t.handler.OnStreamStarted(connID, msg.ServiceID)

	case TypeStreamReset:
		// The whole stream ends, with every connection started on it.
		n := t.streams.closeService(msg.ServiceID)
		t.logger.Debug("tunnel stream reset", "service_id", msg.ServiceID, "connections", n)
		t.handler.OnStreamStopped(msg.ServiceID)

	case TypeConnectionReset:
		t.streams.close(connID)
		t.handler.OnConnectionReset(connID, msg.ServiceID)

	case TypeSessionReset:
		t.streams.clear()
		t.handler.OnSessionReset()

	case TypeServiceIDs:
		kept, dropped := t.streams.setServices(msg.AvailableServiceIDs)
		if dropped > 0 {
			t.logger.Warn("tunnel offers more services than supported", "dropped", dropped)
		}
		t.handler.OnConnectionSuccess(kept)

	default:
		if msg.Ignorable {
			t.logger.Debug("tunnel ignorable message skipped", "type", msg.Type)
			return
		}
		t.logger.Warn("tunnel message of unknown type", "type", msg.Type)
	}
}
