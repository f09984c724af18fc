package tunnel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/inomotech-foss/beluga/internal/buffer"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"region", Config{AccessToken: "tok", Region: "eu-west-1"}, false},
		{"endpoint", Config{AccessToken: "tok", Endpoint: "ws://127.0.0.1:9000"}, false},
		{"source mode", Config{AccessToken: "tok", Region: "eu-west-1", Mode: ModeSource}, false},
		{"no token", Config{Region: "eu-west-1"}, true},
		{"no region or endpoint", Config{AccessToken: "tok"}, true},
		{"unknown mode", Config{AccessToken: "tok", Region: "eu-west-1", Mode: "both"}, true},
		{"bad scheme", Config{AccessToken: "tok", Endpoint: "ftp://example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tun, err := New(tt.cfg, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("New() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if tun.ClientToken() == "" {
				t.Error("ClientToken() is empty")
			}
		})
	}
}

func TestConfig_EndpointURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "region",
			cfg:  Config{Region: "eu-central-1", Mode: ModeDestination},
			want: "wss://data.tunneling.iot.eu-central-1.amazonaws.com/tunnel?local-proxy-mode=destination",
		},
		{
			name: "http endpoint",
			cfg:  Config{Endpoint: "http://127.0.0.1:8080", Mode: ModeSource},
			want: "ws://127.0.0.1:8080/tunnel?local-proxy-mode=source",
		},
		{
			name: "bare host",
			cfg:  Config{Endpoint: "tunnel.example.com", Mode: ModeDestination},
			want: "wss://tunnel.example.com/tunnel?local-proxy-mode=destination",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.endpointURL()
			if err != nil {
				t.Fatalf("endpointURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("endpointURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTunnel_Handshake(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()

	tun, err := New(Config{
		AccessToken: "access-token-1",
		Endpoint:    svc.server.URL,
		ClientToken: "client-token-1",
	}, events.handlers(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tun.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tun.Stop() //nolint:errcheck // Test cleanup

	req := receive(t, svc.requests, "handshake request")
	if got := req.Header.Get("access-token"); got != "access-token-1" {
		t.Errorf("access-token header = %q", got)
	}
	if got := req.Header.Get("client-token"); got != "client-token-1" {
		t.Errorf("client-token header = %q", got)
	}
	if got := req.Header.Get("Sec-WebSocket-Protocol"); got != Subprotocol {
		t.Errorf("subprotocol = %q, want %q", got, Subprotocol)
	}
	if req.URL.Path != "/tunnel" || req.URL.Query().Get("local-proxy-mode") != "destination" {
		t.Errorf("request URL = %s", req.URL)
	}

	p := svc.accept()
	p.send(Message{Type: TypeServiceIDs, AvailableServiceIDs: []string{"SSH", "HTTP", "RDP", "VNC"}})

	ids := receive(t, events.success, "connection success")
	if !slices.Equal(ids, []string{"SSH", "HTTP", "RDP"}) {
		t.Errorf("service ids = %v, want the first three", ids)
	}

	if err := tun.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestTunnel_ConnectionFailure(t *testing.T) {
	events := newRecorder()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid access token", http.StatusForbidden)
	}))
	defer server.Close()

	tun, err := New(Config{AccessToken: "expired", Endpoint: server.URL}, events.handlers(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tun.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err = receive(t, events.failure, "connection failure")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("OnConnectionFailure error = %v, want ErrConnectionFailed", err)
	}
	receive(t, tun.Done(), "tunnel done")
	if !strings.Contains(err.Error(), "HTTP 403") {
		t.Errorf("OnConnectionFailure error = %v, want the HTTP status", err)
	}

	select {
	case <-events.shutdown:
		t.Error("OnConnectionShutdown fired for a tunnel that never connected")
	default:
	}
	if err := tun.SendMessage(1, buffer.FromString("x")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SendMessage() after failure error = %v, want ErrNotStarted", err)
	}
}

func TestTunnel_ConnectionResetLeavesOtherStreams(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	tun, p := startTunnel(t, svc, ModeDestination, events.handlers(), "SSH")
	receive(t, events.success, "connection success")

	p.send(
		Message{Type: TypeStreamStart, StreamID: 1, ServiceID: "SSH", ConnectionID: 7},
		Message{Type: TypeConnectionStart, StreamID: 1, ServiceID: "SSH", ConnectionID: 42},
	)
	receive(t, events.started, "stream 7 started")
	receive(t, events.started, "stream 42 started")

	p.send(Message{Type: TypeConnectionReset, StreamID: 1, ServiceID: "SSH", ConnectionID: 42})
	if id := receive(t, events.reset, "connection reset"); id != 42 {
		t.Errorf("reset connection id = %d, want 42", id)
	}

	want := []Stream{{ConnectionID: 7, ServiceID: "SSH", StreamID: 1}}
	if got := tun.Streams(); !slices.Equal(got, want) {
		t.Errorf("Streams() = %+v, want %+v", got, want)
	}

	payload := buffer.FromString("hello")
	err := tun.SendMessage(7, payload)
	payload.Destroy()
	if err != nil {
		t.Fatalf("SendMessage(7) error = %v", err)
	}

	msg := p.recv()
	if msg.Type != TypeData || msg.ConnectionID != 7 || msg.StreamID != 1 || msg.ServiceID != "SSH" {
		t.Errorf("frame = %+v", msg)
	}
	if string(msg.Payload) != "hello" {
		t.Errorf("payload = %q, want hello", msg.Payload)
	}
	if res := receive(t, events.sent, "send completion"); res.err != nil || res.kind != TypeData {
		t.Errorf("OnSendMessageComplete = (%v, %v)", res.err, res.kind)
	}

	if err := tun.SendMessage(42, buffer.FromString("late")); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("SendMessage(42) error = %v, want ErrStreamNotFound", err)
	}
}

func TestTunnel_ReceiveData(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	_, p := startTunnel(t, svc, ModeDestination, events.handlers(), "SSH")
	receive(t, events.success, "connection success")

	p.send(Message{Type: TypeStreamStart, StreamID: 3, ServiceID: "SSH"})
	if id := receive(t, events.started, "stream started"); id != 1 {
		t.Errorf("stream without connection id started as %d, want 1", id)
	}

	p.send(
		Message{Type: TypeData, StreamID: 2, ServiceID: "SSH", ConnectionID: 1, Payload: []byte("stale")},
		Message{Type: TypeData, StreamID: 3, ServiceID: "SSH", ConnectionID: 9, Payload: []byte("unknown")},
		Message{Type: TypeData, StreamID: 3, ServiceID: "SSH", ConnectionID: 1, Payload: []byte("first")},
		Message{Type: TypeData, StreamID: 3, ServiceID: "SSH", Payload: []byte("second")},
	)

	for _, want := range []string{"first", "second"} {
		got := receive(t, events.received, "data")
		if got.payload != want || got.connectionID != 1 || got.serviceID != "SSH" {
			t.Errorf("received = %+v, want %q on connection 1", got, want)
		}
	}
}

func TestTunnel_StreamAndSessionReset(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	tun, p := startTunnel(t, svc, ModeDestination, events.handlers(), "SSH", "HTTP")
	receive(t, events.success, "connection success")

	p.send(
		Message{Type: TypeStreamStart, StreamID: 1, ServiceID: "SSH", ConnectionID: 1},
		Message{Type: TypeStreamStart, StreamID: 1, ServiceID: "HTTP", ConnectionID: 2},
		Message{Type: TypeConnectionStart, StreamID: 1, ServiceID: "SSH", ConnectionID: 3},
	)
	receive(t, events.started, "SSH stream")
	receive(t, events.started, "HTTP stream")
	receive(t, events.started, "second SSH connection")

	p.send(Message{Type: TypeStreamReset, StreamID: 1, ServiceID: "SSH", ConnectionID: 1})
	if got := receive(t, events.stopped, "stream stopped"); got != "SSH" {
		t.Errorf("stopped service = %q, want SSH", got)
	}
	if got := tun.Streams(); len(got) != 1 || got[0].ServiceID != "HTTP" {
		t.Errorf("Streams() = %+v, want only HTTP", got)
	}
	for _, id := range []uint32{1, 3} {
		if err := tun.SendMessage(id, buffer.FromString("x")); !errors.Is(err, ErrStreamNotFound) {
			t.Errorf("SendMessage(%d) after SSH reset error = %v, want ErrStreamNotFound", id, err)
		}
	}

	p.send(Message{Type: TypeSessionReset})
	receive(t, events.session, "session reset")
	if got := tun.Streams(); len(got) != 0 {
		t.Errorf("Streams() after session reset = %+v", got)
	}
}

func TestTunnel_NewStreamDropsOldConnections(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	tun, p := startTunnel(t, svc, ModeDestination, events.handlers(), "SSH")
	receive(t, events.success, "connection success")

	p.send(
		Message{Type: TypeStreamStart, StreamID: 1, ServiceID: "SSH", ConnectionID: 1},
		Message{Type: TypeConnectionStart, StreamID: 1, ServiceID: "SSH", ConnectionID: 2},
		Message{Type: TypeStreamStart, StreamID: 2, ServiceID: "SSH", ConnectionID: 1},
	)
	for range 3 {
		receive(t, events.started, "stream start")
	}

	want := []Stream{{ConnectionID: 1, ServiceID: "SSH", StreamID: 2}}
	if got := tun.Streams(); !slices.Equal(got, want) {
		t.Errorf("Streams() = %+v, want %+v", got, want)
	}
	if err := tun.SendMessage(2, buffer.FromString("x")); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("SendMessage(2) on replaced stream error = %v, want ErrStreamNotFound", err)
	}
}

func TestTunnel_SendMessageErrors(t *testing.T) {
	tun, err := New(Config{AccessToken: "tok", Region: "eu-west-1"}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := tun.SendMessage(1, buffer.FromString("x")); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SendMessage() before Start error = %v, want ErrNotStarted", err)
	}

	big := buffer.Create(MaxPayloadSize + 1)
	defer big.Destroy()
	if err := tun.SendMessage(1, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("SendMessage() error = %v, want ErrPayloadTooLarge", err)
	}

	if err := tun.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start error = %v, want ErrNotStarted", err)
	}
}

func TestTunnel_Stop(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	tun, _ := startTunnel(t, svc, ModeDestination, events.handlers(), "SSH")
	receive(t, events.success, "connection success")

	if err := tun.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	receive(t, events.shutdown, "connection shutdown")
	receive(t, tun.Done(), "tunnel done")

	if err := tun.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Stop() error = %v, want ErrClosed", err)
	}
}

func TestTunnel_PeerClose(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	tun, p := startTunnel(t, svc, ModeDestination, events.handlers(), "SSH")
	receive(t, events.success, "connection success")

	_ = p.conn.Close()
	receive(t, events.shutdown, "connection shutdown")
	receive(t, tun.Done(), "tunnel done")
}

func TestTunnel_StartStream(t *testing.T) {
	svc := newFakeService(t)
	events := newRecorder()
	tun, p := startTunnel(t, svc, ModeSource, events.handlers(), "SSH")
	receive(t, events.success, "connection success")

	if err := tun.StartStream("SSH", 1); err != nil {
		t.Fatalf("StartStream(SSH, 1) error = %v", err)
	}
	msg := p.recv()
	if msg.Type != TypeStreamStart || msg.StreamID != 1 || msg.ConnectionID != 1 || msg.ServiceID != "SSH" {
		t.Errorf("frame = %+v, want STREAM_START stream 1 connection 1", msg)
	}

	if err := tun.StartStream("SSH", 2); err != nil {
		t.Fatalf("StartStream(SSH, 2) error = %v", err)
	}
	msg = p.recv()
	if msg.Type != TypeConnectionStart || msg.StreamID != 1 || msg.ConnectionID != 2 {
		t.Errorf("frame = %+v, want CONNECTION_START stream 1 connection 2", msg)
	}

	if err := tun.StartStream("RDP", 1); !errors.Is(err, ErrUnknownService) {
		t.Errorf("StartStream(RDP) error = %v, want ErrUnknownService", err)
	}

	if err := tun.ResetStream(2); err != nil {
		t.Fatalf("ResetStream(2) error = %v", err)
	}
	msg = p.recv()
	if msg.Type != TypeConnectionReset || msg.ConnectionID != 2 {
		t.Errorf("frame = %+v, want CONNECTION_RESET connection 2", msg)
	}
	if err := tun.ResetStream(2); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("second ResetStream(2) error = %v, want ErrStreamNotFound", err)
	}
}

func TestTunnel_StartStreamDestinationMode(t *testing.T) {
	tun, err := New(Config{AccessToken: "tok", Region: "eu-west-1"}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tun.StartStream("SSH", 1); !errors.Is(err, ErrWrongMode) {
		t.Errorf("StartStream() error = %v, want ErrWrongMode", err)
	}
}
