// Package mqtttest runs an in-process MQTT broker for tests.
//
// The broker accepts every client and exposes an inline client, so tests
// can play the role of a cloud service: observe what the device publishes
// and publish responses back.
package mqtttest

import (
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/inomotech-foss/beluga/internal/infrastructure/config"
)

// Message is a publish observed by the broker's inline client.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker wraps a mochi server listening on a loopback port.
type Broker struct {
	t      testing.TB
	server *mochi.Server
	port   int

	subID int
	mu    sync.Mutex
}

// Option configures a Broker.
type Option func(*options)

type options struct {
	denied []string
}

// DenySubscribe makes the broker refuse network subscriptions to the given
// filters with a failure return code.
func DenySubscribe(filters ...string) Option {
	return func(o *options) {
		o.denied = append(o.denied, filters...)
	}
}

// aclHook allows every connection and publish and refuses subscriptions
// to the denied filters. Mochi asks only the first hook that provides a
// check, so it is added ahead of auth.AllowHook.
type aclHook struct {
	mochi.HookBase
	denied []string
}

func (h *aclHook) ID() string {
	return "mqtttest-acl"
}

func (h *aclHook) Provides(b byte) bool {
	return b == mochi.OnConnectAuthenticate || b == mochi.OnACLCheck
}

func (h *aclHook) OnConnectAuthenticate(*mochi.Client, packets.Packet) bool {
	return true
}

func (h *aclHook) OnACLCheck(_ *mochi.Client, topic string, write bool) bool {
	return write || !slices.Contains(h.denied, topic)
}

// Start launches a broker and registers its shutdown with t.Cleanup.
func Start(t testing.TB, opts ...Option) *Broker {
	t.Helper()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if len(o.denied) > 0 {
		if err := server.AddHook(&aclHook{denied: o.denied}, nil); err != nil {
			t.Fatalf("AddHook() error = %v", err)
		}
	}
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}

	port := FreePort(t)
	tcp := listeners.NewTCP(listeners.Config{
		ID:      "mqtttest",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	go func() {
		_ = server.Serve() //nolint:errcheck // Serve only fails on listener errors already surfaced above
	}()

	t.Cleanup(func() {
		_ = server.Close() //nolint:errcheck // Test cleanup
	})

	return &Broker{t: t, server: server, port: port}
}

// Port returns the broker's TCP port.
func (b *Broker) Port() int {
	return b.port
}

// Config returns an MQTT session config pointing at the broker with
// username/password auth and TLS disabled.
func (b *Broker) Config(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Endpoint:     "127.0.0.1",
		Port:         b.port,
		ClientID:     clientID,
		CleanSession: true,
		KeepAlive:    30,
		PingTimeout:  2000,
		QoS:          1,
		Auth: config.MQTTAuthConfig{
			Username: "test",
			Password: "test",
		},
	}
}

// Publish sends a message from the inline client.
func (b *Broker) Publish(topic string, payload []byte) {
	b.t.Helper()
	if err := b.server.Publish(topic, payload, false, 1); err != nil {
		b.t.Fatalf("broker Publish(%s) error = %v", topic, err)
	}
}

// Subscribe delivers every message matching filter to a channel.
func (b *Broker) Subscribe(filter string) <-chan Message {
	b.t.Helper()

	b.mu.Lock()
	b.subID++
	id := b.subID
	b.mu.Unlock()

	ch := make(chan Message, 64)
	err := b.server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		msg := Message{Topic: pk.TopicName, Payload: append([]byte(nil), pk.Payload...)}
		select {
		case ch <- msg:
		default:
		}
	})
	if err != nil {
		b.t.Fatalf("broker Subscribe(%s) error = %v", filter, err)
	}
	return ch
}

// Handle answers every message matching filter with the replies returned
// by fn. Replies are published from the inline client.
func (b *Broker) Handle(filter string, fn func(Message) []Message) {
	b.t.Helper()

	b.mu.Lock()
	b.subID++
	id := b.subID
	b.mu.Unlock()

	err := b.server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		req := Message{Topic: pk.TopicName, Payload: append([]byte(nil), pk.Payload...)}
		for _, reply := range fn(req) {
			go func(reply Message) {
				_ = b.server.Publish(reply.Topic, reply.Payload, false, 1) //nolint:errcheck // Best effort reply
			}(reply)
		}
	})
	if err != nil {
		b.t.Fatalf("broker Handle(%s) error = %v", filter, err)
	}
}

// WaitSubscribed blocks until a network client holds a subscription
// matching topic.
func (b *Broker) WaitSubscribed(topic string, timeout time.Duration) {
	b.t.Helper()

	deadline := time.Now().Add(timeout)
	for len(b.server.Topics.Subscribers(topic).Subscriptions) == 0 {
		if time.Now().After(deadline) {
			b.t.Fatalf("timed out after %v waiting for a subscription to %s", timeout, topic)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// FreePort returns a loopback TCP port that was free a moment ago.
func FreePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close() //nolint:errcheck // Test helper
	return l.Addr().(*net.TCPAddr).Port
}

// Receive waits for one value from ch or fails the test after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for %s", timeout, what)
	}
	var zero T
	return zero
}
