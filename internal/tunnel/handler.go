package tunnel

import "github.com/inomotech-foss/beluga/internal/buffer"

// Handler receives the events of a Tunnel.
//
// Methods run on the tunnel's read and write goroutines. They must not
// call Stop.
type Handler interface {
	// OnConnectionSuccess fires when the service announces the service
	// ids available on the tunnel (at most three).
	OnConnectionSuccess(serviceIDs []string)

	// OnConnectionFailure fires when the websocket could not be opened.
	OnConnectionFailure(err error)

	// OnConnectionShutdown fires once after an open websocket closes.
	OnConnectionShutdown()

	// OnConnectionReset fires when the peer resets one connection.
	OnConnectionReset(connectionID uint32, serviceID string)

	// OnSessionReset fires when the peer resets every stream.
	OnSessionReset()

	// OnSendMessageComplete reports the write of a frame queued by
	// SendMessage, StartStream or ResetStream.
	OnSendMessageComplete(err error, messageType MessageType)

	// OnMessageReceived delivers stream data. payload is Borrowed.
	OnMessageReceived(connectionID uint32, payload buffer.Buffer, serviceID string)

	// OnStreamStarted fires when a stream or an additional connection on
	// a stream opens.
	OnStreamStarted(connectionID uint32, serviceID string)

	// OnStreamStopped fires when the peer resets the stream of a service.
	OnStreamStopped(serviceID string)
}

// Handlers adapts optional functions to Handler. Nil fields are ignored.
type Handlers struct {
	ConnectionSuccess   func(serviceIDs []string)
	ConnectionFailure   func(err error)
	ConnectionShutdown  func()
	ConnectionReset     func(connectionID uint32, serviceID string)
	SessionReset        func()
	SendMessageComplete func(err error, messageType MessageType)
	MessageReceived     func(connectionID uint32, payload buffer.Buffer, serviceID string)
	StreamStarted       func(connectionID uint32, serviceID string)
	StreamStopped       func(serviceID string)
}

var _ Handler = Handlers{}

func (h Handlers) OnConnectionSuccess(serviceIDs []string) {
	if h.ConnectionSuccess != nil {
		h.ConnectionSuccess(serviceIDs)
	}
}

func (h Handlers) OnConnectionFailure(err error) {
	if h.ConnectionFailure != nil {
		h.ConnectionFailure(err)
	}
}

func (h Handlers) OnConnectionShutdown() {
	if h.ConnectionShutdown != nil {
		h.ConnectionShutdown()
	}
}

func (h Handlers) OnConnectionReset(connectionID uint32, serviceID string) {
	if h.ConnectionReset != nil {
		h.ConnectionReset(connectionID, serviceID)
	}
}

func (h Handlers) OnSessionReset() {
	if h.SessionReset != nil {
		h.SessionReset()
	}
}

func (h Handlers) OnSendMessageComplete(err error, messageType MessageType) {
	if h.SendMessageComplete != nil {
		h.SendMessageComplete(err, messageType)
	}
}

func (h Handlers) OnMessageReceived(connectionID uint32, payload buffer.Buffer, serviceID string) {
	if h.MessageReceived != nil {
		h.MessageReceived(connectionID, payload, serviceID)
	}
}

func (h Handlers) OnStreamStarted(connectionID uint32, serviceID string) {
	if h.StreamStarted != nil {
		h.StreamStarted(connectionID, serviceID)
	}
}

func (h Handlers) OnStreamStopped(serviceID string) {
	if h.StreamStopped != nil {
		h.StreamStopped(serviceID)
	}
}
