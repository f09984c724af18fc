package tunnel

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType is the type field of a tunnel Message.
type MessageType int32

// Message types of the secure tunneling protocol.
const (
	TypeUnknown         MessageType = 0
	TypeData            MessageType = 1
	TypeStreamStart     MessageType = 2
	TypeStreamReset     MessageType = 3
	TypeSessionReset    MessageType = 4
	TypeServiceIDs      MessageType = 5
	TypeConnectionStart MessageType = 6
	TypeConnectionReset MessageType = 7
)

// String returns the protocol name of the type.
func (t MessageType) String() string {
	switch t {
	case TypeUnknown:
		return "UNKNOWN"
	case TypeData:
		return "DATA"
	case TypeStreamStart:
		return "STREAM_START"
	case TypeStreamReset:
		return "STREAM_RESET"
	case TypeSessionReset:
		return "SESSION_RESET"
	case TypeServiceIDs:
		return "SERVICE_IDS"
	case TypeConnectionStart:
		return "CONNECTION_START"
	case TypeConnectionReset:
		return "CONNECTION_RESET"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(t))
	}
}

// Protobuf field numbers of Message.
const (
	fieldType                protowire.Number = 1
	fieldStreamID            protowire.Number = 2
	fieldIgnorable           protowire.Number = 3
	fieldPayload             protowire.Number = 4
	fieldServiceID           protowire.Number = 5
	fieldAvailableServiceIDs protowire.Number = 6
	fieldConnectionID        protowire.Number = 7
)

// Message is one tunnel protocol message.
//
// Scalar fields at their zero value are not encoded. After Unmarshal,
// Payload aliases the input slice.
type Message struct {
	Type                MessageType
	StreamID            int32
	Ignorable           bool
	Payload             []byte
	ServiceID           string
	AvailableServiceIDs []string
	ConnectionID        uint32
}

// AppendMarshal appends the protobuf encoding of m to b.
func (m *Message) AppendMarshal(b []byte) []byte {
	if m.Type != 0 {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Type)))
	}
	if m.StreamID != 0 {
		b = protowire.AppendTag(b, fieldStreamID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.StreamID)))
	}
	if m.Ignorable {
		b = protowire.AppendTag(b, fieldIgnorable, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	if m.ServiceID != "" {
		b = protowire.AppendTag(b, fieldServiceID, protowire.BytesType)
		b = protowire.AppendString(b, m.ServiceID)
	}
	for _, id := range m.AvailableServiceIDs {
		b = protowire.AppendTag(b, fieldAvailableServiceIDs, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	if m.ConnectionID != 0 {
		b = protowire.AppendTag(b, fieldConnectionID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ConnectionID))
	}
	return b
}

// Size returns the length of the encoding of m.
func (m *Message) Size() int {
	n := 0
	if m.Type != 0 {
		n += protowire.SizeTag(fieldType) + protowire.SizeVarint(uint64(int64(m.Type)))
	}
	if m.StreamID != 0 {
		n += protowire.SizeTag(fieldStreamID) + protowire.SizeVarint(uint64(int64(m.StreamID)))
	}
	if m.Ignorable {
		n += protowire.SizeTag(fieldIgnorable) + 1
	}
	if len(m.Payload) > 0 {
		n += protowire.SizeTag(fieldPayload) + protowire.SizeBytes(len(m.Payload))
	}
	if m.ServiceID != "" {
		n += protowire.SizeTag(fieldServiceID) + protowire.SizeBytes(len(m.ServiceID))
	}
	for _, id := range m.AvailableServiceIDs {
		n += protowire.SizeTag(fieldAvailableServiceIDs) + protowire.SizeBytes(len(id))
	}
	if m.ConnectionID != 0 {
		n += protowire.SizeTag(fieldConnectionID) + protowire.SizeVarint(uint64(m.ConnectionID))
	}
	return n
}

// Unmarshal decodes b into m. Unknown fields are skipped.
func (m *Message) Unmarshal(b []byte) error {
	*m = Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.Type = MessageType(int32(v))
			b = b[n:]
		case num == fieldStreamID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.StreamID = int32(v)
			b = b[n:]
		case num == fieldIgnorable && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.Ignorable = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.Payload = v
			b = b[n:]
		case num == fieldServiceID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.ServiceID = v
			b = b[n:]
		case num == fieldAvailableServiceIDs && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.AvailableServiceIDs = append(m.AvailableServiceIDs, v)
			b = b[n:]
		case num == fieldConnectionID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fieldError(num, n)
			}
			m.ConnectionID = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fieldError(num, n)
			}
			b = b[n:]
		}
	}
	return nil
}

func fieldError(num protowire.Number, n int) error {
	return fmt.Errorf("%w: field %d: %w", ErrMalformedFrame, num, protowire.ParseError(n))
}
