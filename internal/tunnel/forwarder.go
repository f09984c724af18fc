package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/inomotech-foss/beluga/internal/buffer"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// Forwarder limits.
const (
	// readChunkSize is how much local data goes into one Data frame.
	readChunkSize = 16 * 1024

	// streamQueueSize is the number of received payloads buffered per
	// stream while the local socket is slow or still connecting.
	streamQueueSize = 64
)

// errLocalClosed ends a stream's pumps when the local service closes its
// side.
var errLocalClosed = errors.New("local service closed the connection")

// streamSender is the part of *Tunnel used by the Forwarder.
type streamSender interface {
	SendMessage(connectionID uint32, payload buffer.Buffer) error
	ResetStream(connectionID uint32) error
}

// localStream is the local half of one tunnel stream.
type localStream struct {
	connectionID uint32
	serviceID    string
	out          chan buffer.Buffer
	cancel       context.CancelFunc
}

// Forwarder bridges the streams of a destination-mode tunnel to local TCP
// services. It implements Handler and passes every event on to next.
//
// Usage:
//
//	fwd := tunnel.NewForwarder(map[string]string{"SSH": "127.0.0.1:22"}, next, logger)
//	t, err := tunnel.New(cfg, fwd, logger)
//	fwd.Attach(t)
type Forwarder struct {
	services map[string]string
	next     Handler
	logger   mqtt.Logger
	dial     func(ctx context.Context, network, address string) (net.Conn, error)

	sender  atomic.Pointer[streamSender]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	streams map[uint32]*localStream

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

var _ Handler = (*Forwarder)(nil)

// NewForwarder returns a Forwarder for services, a map of service id to
// local host:port. next may be nil.
func NewForwarder(services map[string]string, next Handler, logger mqtt.Logger) *Forwarder {
	if next == nil {
		next = Handlers{}
	}
	if logger == nil {
		logger = mqtt.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	var d net.Dialer
	return &Forwarder{
		services: services,
		next:     next,
		logger:   logger,
		dial:     d.DialContext,
		ctx:      ctx,
		cancel:   cancel,
		streams:  make(map[uint32]*localStream),
	}
}

// Attach sets the tunnel that stream data is sent through.
func (f *Forwarder) Attach(t streamSender) {
	f.sender.Store(&t)
}

// Close stops every local connection and waits for the pumps to exit.
func (f *Forwarder) Close() {
	f.cancel()
	f.wg.Wait()
}

// Stats returns the bytes received from and sent into the tunnel.
func (f *Forwarder) Stats() (in, out uint64) {
	return f.bytesIn.Load(), f.bytesOut.Load()
}

// OnStreamStarted dials the local service of serviceID. Streams for
// services without a local address are reset.
func (f *Forwarder) OnStreamStarted(connectionID uint32, serviceID string) {
	f.next.OnStreamStarted(connectionID, serviceID)

	addr, ok := f.services[serviceID]
	if !ok {
		f.logger.Warn("tunnel stream for unconfigured service", "service_id", serviceID, "connection_id", connectionID)
		f.reset(connectionID)
		return
	}

	ctx, cancel := context.WithCancel(f.ctx)
	s := &localStream{
		connectionID: connectionID,
		serviceID:    serviceID,
		out:          make(chan buffer.Buffer, streamQueueSize),
		cancel:       cancel,
	}

	f.mu.Lock()
	if old, exists := f.streams[connectionID]; exists {
		old.cancel()
	}
	f.streams[connectionID] = s
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.serve(ctx, s, addr)
	}()
}

// OnMessageReceived queues a copy of payload for the local socket.
func (f *Forwarder) OnMessageReceived(connectionID uint32, payload buffer.Buffer, serviceID string) {
	f.next.OnMessageReceived(connectionID, payload, serviceID)

	// Queue under the lock: once forget has removed a stream nothing more
	// is added to its queue.
	f.mu.Lock()
	s, ok := f.streams[connectionID]
	queued := false
	if ok {
		data := payload.Copy()
		select {
		case s.out <- data:
			queued = true
		default:
			data.Destroy()
		}
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	f.bytesIn.Add(uint64(payload.Len()))
	if !queued {
		f.logger.Warn("tunnel stream queue full, resetting", "connection_id", connectionID)
		f.stop(connectionID)
		f.reset(connectionID)
	}
}

func (f *Forwarder) OnConnectionReset(connectionID uint32, serviceID string) {
	f.stop(connectionID)
	f.next.OnConnectionReset(connectionID, serviceID)
}

func (f *Forwarder) OnStreamStopped(serviceID string) {
	f.stopWhere(func(s *localStream) bool { return s.serviceID == serviceID })
	f.next.OnStreamStopped(serviceID)
}

func (f *Forwarder) OnSessionReset() {
	f.stopWhere(func(*localStream) bool { return true })
	f.next.OnSessionReset()
}

func (f *Forwarder) OnConnectionShutdown() {
	f.stopWhere(func(*localStream) bool { return true })
	f.next.OnConnectionShutdown()
}

func (f *Forwarder) OnConnectionSuccess(serviceIDs []string) {
	for _, id := range serviceIDs {
		if _, ok := f.services[id]; !ok {
			f.logger.Warn("tunnel offers a service with no local address", "service_id", id)
		}
	}
	f.next.OnConnectionSuccess(serviceIDs)
}

func (f *Forwarder) OnConnectionFailure(err error) {
	f.next.OnConnectionFailure(err)
}

func (f *Forwarder) OnSendMessageComplete(err error, messageType MessageType) {
	f.next.OnSendMessageComplete(err, messageType)
}

// serve connects to the local service and pumps bytes both ways until
// either side closes.
func (f *Forwarder) serve(ctx context.Context, s *localStream, addr string) {
	defer f.forget(s)

	conn, err := f.dial(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Warn("tunnel local service unreachable", "service_id", s.serviceID, "address", addr, "error", err)
			f.reset(s.connectionID)
		}
		return
	}
	f.logger.Info("tunnel stream forwarding",
		"connection_id", s.connectionID,
		"service_id", s.serviceID,
		"address", addr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		return f.pumpToTunnel(conn, s.connectionID)
	})
	g.Go(func() error {
		return f.pumpToLocal(gctx, conn, s.out)
	})
	err = g.Wait()

	switch {
	case ctx.Err() != nil:
		// Reset by the peer or the forwarder is closing.
	case errors.Is(err, errLocalClosed):
		f.logger.Debug("tunnel local service closed", "connection_id", s.connectionID)
		f.reset(s.connectionID)
	default:
		f.logger.Warn("tunnel stream failed", "connection_id", s.connectionID, "error", err)
		f.reset(s.connectionID)
	}
}

func (f *Forwarder) pumpToTunnel(conn net.Conn, connectionID uint32) error {
	sender := f.sender.Load()
	if sender == nil {
		return errors.New("forwarder not attached to a tunnel")
	}

	chunk := buffer.Create(readChunkSize)
	defer chunk.Destroy()
	buf := chunk.Bytes()

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if sendErr := (*sender).SendMessage(connectionID, buffer.Borrow(buf[:n])); sendErr != nil {
				return fmt.Errorf("sending to tunnel: %w", sendErr)
			}
			f.bytesOut.Add(uint64(n))
		}
		if errors.Is(err, io.EOF) {
			return errLocalClosed
		}
		if err != nil {
			return err
		}
	}
}

func (f *Forwarder) pumpToLocal(ctx context.Context, conn net.Conn, out <-chan buffer.Buffer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-out:
			_, err := conn.Write(data.Bytes())
			data.Destroy()
			if err != nil {
				return fmt.Errorf("writing to local service: %w", err)
			}
		}
	}
}

// stop cancels the local half of connectionID without notifying the peer.
func (f *Forwarder) stop(connectionID uint32) {
	f.mu.Lock()
	s, ok := f.streams[connectionID]
	delete(f.streams, connectionID)
	f.mu.Unlock()
	if ok {
		s.cancel()
	}
}

func (f *Forwarder) stopWhere(match func(*localStream) bool) {
	f.mu.Lock()
	var stopped []*localStream
	for id, s := range f.streams {
		if match(s) {
			stopped = append(stopped, s)
			delete(f.streams, id)
		}
	}
	f.mu.Unlock()
	for _, s := range stopped {
		s.cancel()
	}
}

// forget removes s if it is still the registered stream for its id and
// releases the payloads still queued for the local socket.
func (f *Forwarder) forget(s *localStream) {
	f.mu.Lock()
	if f.streams[s.connectionID] == s {
		delete(f.streams, s.connectionID)
	}
	f.mu.Unlock()
	s.cancel()

	for {
		select {
		case data := <-s.out:
			data.Destroy()
		default:
			return
		}
	}
}

// reset tells the peer the stream is gone. Failures mean the tunnel is
// already down.
func (f *Forwarder) reset(connectionID uint32) {
	sender := f.sender.Load()
	if sender == nil {
		return
	}
	if err := (*sender).ResetStream(connectionID); err != nil {
		f.logger.Debug("tunnel stream reset not sent", "connection_id", connectionID, "error", err)
	}
}
