package jobs

import (
	"errors"
	"sync"

	"github.com/inomotech-foss/beluga/internal/buffer"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
)

// fakeSession is a scripted mqtt.Session. It records every call and lets
// tests inject messages on subscribed topics.
type fakeSession struct {
	mu sync.Mutex

	// failSubscribeAt makes the n-th Subscribe call (0-based) fail
	// synchronously. -1 disables.
	failSubscribeAt int
	retainErr       error
	publishErr      error

	subscribed   []string
	unsubscribed []string
	published    []publishedMessage
	handlers     map[string]mqtt.MessageFunc
	subAcks      map[string]mqtt.SubAckFunc
	refs         int
	nextID       uint16
}

type publishedMessage struct {
	topic   string
	qos     byte
	payload string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		failSubscribeAt: -1,
		handlers:        make(map[string]mqtt.MessageFunc),
		subAcks:         make(map[string]mqtt.SubAckFunc),
	}
}

var errBrokerGone = errors.New("broker gone")

func (f *fakeSession) id() uint16 {
	f.nextID++
	return f.nextID
}

func (f *fakeSession) Subscribe(topic string, _ byte, onMessage mqtt.MessageFunc, onSubAck mqtt.SubAckFunc) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubscribeAt == len(f.subscribed) {
		f.failSubscribeAt = -1
		return 0, errBrokerGone
	}
	f.subscribed = append(f.subscribed, topic)
	f.handlers[topic] = onMessage
	f.subAcks[topic] = onSubAck
	return f.id(), nil
}

func (f *fakeSession) Unsubscribe(topic string, _ mqtt.UnsubAckFunc) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	return f.id(), nil
}

func (f *fakeSession) Publish(topic string, qos byte, _ bool, payload buffer.Buffer, _ mqtt.PubAckFunc) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return 0, f.publishErr
	}
	f.published = append(f.published, publishedMessage{topic: topic, qos: qos, payload: payload.String()})
	return f.id(), nil
}

func (f *fakeSession) Retain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retainErr != nil {
		return f.retainErr
	}
	f.refs++
	return nil
}

func (f *fakeSession) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs--
}

// deliver hands payload to the handler registered for topic, as the
// engine would. It reports whether a handler was registered.
func (f *fakeSession) deliver(topic, payload string) bool {
	f.mu.Lock()
	fn, ok := f.handlers[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn(topic, buffer.Borrow([]byte(payload)))
	return true
}

func (f *fakeSession) ack(topic string, err error) {
	f.mu.Lock()
	fn := f.subAcks[topic]
	f.mu.Unlock()
	fn(1, topic, 1, err)
}

func (f *fakeSession) lastPublished() publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return publishedMessage{}
	}
	return f.published[len(f.published)-1]
}
