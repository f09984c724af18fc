package tunnel

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inomotech-foss/beluga/internal/buffer"
)

const waitTimeout = 5 * time.Second

// fakeService plays the tunneling service: it accepts the device's
// websocket and lets tests exchange frames with it.
type fakeService struct {
	t        *testing.T
	server   *httptest.Server
	peers    chan *peer
	requests chan *http.Request
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	s := &fakeService{
		t:        t,
		peers:    make(chan *peer, 4),
		requests: make(chan *http.Request, 4),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.peers <- &peer{t: t, conn: conn}
	}))
	t.Cleanup(s.server.Close)
	return s
}

// accept waits for the device to connect.
func (s *fakeService) accept() *peer {
	s.t.Helper()
	select {
	case p := <-s.peers:
		s.t.Cleanup(func() { _ = p.conn.Close() })
		return p
	case <-time.After(waitTimeout):
		s.t.Fatal("timed out waiting for the tunnel to connect")
		return nil
	}
}

// peer is the service end of one tunnel websocket.
type peer struct {
	t      *testing.T
	conn   *websocket.Conn
	frames frameReader
}

// send writes msgs as frames of a single websocket message.
func (p *peer) send(msgs ...Message) {
	p.t.Helper()
	var data []byte
	for i := range msgs {
		var err error
		if data, err = appendFrame(data, &msgs[i]); err != nil {
			p.t.Fatalf("appendFrame() error = %v", err)
		}
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.t.Fatalf("peer WriteMessage() error = %v", err)
	}
}

// recv returns the next frame sent by the device.
func (p *peer) recv() Message {
	p.t.Helper()
	//nolint:errcheck // Test deadline
	p.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		msg, ok, err := p.frames.next()
		if err != nil {
			p.t.Fatalf("peer frame error = %v", err)
		}
		if ok {
			msg.Payload = bytes.Clone(msg.Payload)
			return msg
		}
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			p.t.Fatalf("peer ReadMessage() error = %v", err)
		}
		p.frames.feed(data)
	}
}

// recorder turns tunnel events into channels.
type recorder struct {
	success  chan []string
	failure  chan error
	shutdown chan struct{}
	reset    chan uint32
	session  chan struct{}
	sent     chan sendResult
	received chan received
	started  chan uint32
	stopped  chan string
}

type sendResult struct {
	err  error
	kind MessageType
}

type received struct {
	connectionID uint32
	payload      string
	serviceID    string
}

func newRecorder() *recorder {
	return &recorder{
		success:  make(chan []string, 4),
		failure:  make(chan error, 4),
		shutdown: make(chan struct{}, 4),
		reset:    make(chan uint32, 16),
		session:  make(chan struct{}, 4),
		sent:     make(chan sendResult, 64),
		received: make(chan received, 64),
		started:  make(chan uint32, 16),
		stopped:  make(chan string, 16),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		ConnectionSuccess:  func(ids []string) { r.success <- ids },
		ConnectionFailure:  func(err error) { r.failure <- err },
		ConnectionShutdown: func() { r.shutdown <- struct{}{} },
		ConnectionReset:    func(id uint32, _ string) { r.reset <- id },
		SessionReset:       func() { r.session <- struct{}{} },
		SendMessageComplete: func(err error, kind MessageType) {
			r.sent <- sendResult{err: err, kind: kind}
		},
		MessageReceived: func(id uint32, payload buffer.Buffer, serviceID string) {
			r.received <- received{connectionID: id, payload: payload.String(), serviceID: serviceID}
		},
		StreamStarted: func(id uint32, _ string) { r.started <- id },
		StreamStopped: func(serviceID string) { r.stopped <- serviceID },
	}
}

// startTunnel connects a tunnel to svc and returns both ends once the
// service has announced serviceIDs.
func startTunnel(t *testing.T, svc *fakeService, mode Mode, handler Handler, serviceIDs ...string) (*Tunnel, *peer) {
	t.Helper()

	tun, err := New(Config{
		AccessToken: "access-token-1",
		Endpoint:    svc.server.URL,
		Mode:        mode,
	}, handler, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tun.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = tun.Stop() })

	p := svc.accept()
	p.send(Message{Type: TypeServiceIDs, AvailableServiceIDs: serviceIDs})
	return tun, p
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}
