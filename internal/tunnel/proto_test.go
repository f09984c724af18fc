package tunnel

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================================================
// Message encoding
// ============================================================================

func TestMessage_Encoding(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []byte
	}{
		{
			name: "data",
			msg:  Message{Type: TypeData, StreamID: 1, Payload: []byte("hi")},
			want: []byte{0x08, 0x01, 0x10, 0x01, 0x22, 0x02, 'h', 'i'},
		},
		{
			name: "zero fields omitted",
			msg:  Message{Type: TypeSessionReset},
			want: []byte{0x08, 0x04},
		},
		{
			name: "service and connection",
			msg:  Message{Type: TypeConnectionReset, ServiceID: "SSH", ConnectionID: 300},
			want: []byte{0x08, 0x07, 0x2a, 0x03, 'S', 'S', 'H', 0x38, 0xac, 0x02},
		},
		{
			name: "ignorable",
			msg:  Message{Type: 99, Ignorable: true},
			want: []byte{0x08, 0x63, 0x18, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.msg.AppendMarshal(nil)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("AppendMarshal() = % x, want % x", got, tt.want)
			}
			if size := tt.msg.Size(); size != len(got) {
				t.Errorf("Size() = %d, encoded %d bytes", size, len(got))
			}
		})
	}
}

func TestMessage_Unmarshal(t *testing.T) {
	in := Message{
		Type:                TypeServiceIDs,
		StreamID:            5,
		Payload:             []byte{0, 1, 2},
		ServiceID:           "HTTP",
		AvailableServiceIDs: []string{"SSH", "HTTP"},
		ConnectionID:        9,
	}

	var got Message
	if err := got.Unmarshal(in.AppendMarshal(nil)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Type != in.Type || got.StreamID != in.StreamID || got.ServiceID != in.ServiceID ||
		got.ConnectionID != in.ConnectionID || !bytes.Equal(got.Payload, in.Payload) ||
		!slices.Equal(got.AvailableServiceIDs, in.AvailableServiceIDs) {
		t.Errorf("Unmarshal() = %+v, want %+v", got, in)
	}
}

func TestMessage_UnmarshalSkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 42, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer peer")
	b = protowire.AppendTag(b, 43, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	b = (&Message{Type: TypeStreamStart, StreamID: 2}).AppendMarshal(b)

	var got Message
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Type != TypeStreamStart || got.StreamID != 2 {
		t.Errorf("Unmarshal() = %+v", got)
	}
}

func TestMessage_UnmarshalMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated varint", []byte{0x08, 0x80}},
		{"truncated bytes", []byte{0x22, 0x05, 'h', 'i'}},
		{"bad tag", []byte{0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			if err := m.Unmarshal(tt.data); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestMessageType_String(t *testing.T) {
	if got := TypeConnectionStart.String(); got != "CONNECTION_START" {
		t.Errorf("String() = %q", got)
	}
	if got := MessageType(12).String(); got != "MessageType(12)" {
		t.Errorf("String() = %q", got)
	}
}

// ============================================================================
// Framing
// ============================================================================

func TestAppendFrame_LengthPrefix(t *testing.T) {
	msg := Message{Type: TypeData, StreamID: 1, Payload: []byte("hi")}
	frame, err := appendFrame(nil, &msg)
	if err != nil {
		t.Fatalf("appendFrame() error = %v", err)
	}
	if frame[0] != 0x00 || frame[1] != 0x08 || len(frame) != 10 {
		t.Errorf("appendFrame() = % x", frame)
	}
}

func TestAppendFrame_TooLarge(t *testing.T) {
	msg := Message{Type: TypeData, StreamID: 1, Payload: make([]byte, maxFrameSize)}
	if _, err := appendFrame(nil, &msg); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("appendFrame() error = %v, want ErrPayloadTooLarge", err)
	}

	// The largest payload SendMessage accepts always fits.
	msg.Payload = make([]byte, MaxPayloadSize)
	msg.ServiceID = "a-long-service-identifier"
	msg.ConnectionID = 1 << 31
	if _, err := appendFrame(nil, &msg); err != nil {
		t.Errorf("appendFrame() at MaxPayloadSize error = %v", err)
	}
}

func TestFrameReader_SeveralFramesInOneMessage(t *testing.T) {
	var data []byte
	for _, id := range []int32{1, 2, 3} {
		var err error
		if data, err = appendFrame(data, &Message{Type: TypeData, StreamID: id, Payload: []byte("x")}); err != nil {
			t.Fatalf("appendFrame() error = %v", err)
		}
	}

	var r frameReader
	r.feed(data)
	for want := int32(1); want <= 3; want++ {
		msg, ok, err := r.next()
		if err != nil || !ok {
			t.Fatalf("next() = (%v, %v)", ok, err)
		}
		if msg.StreamID != want {
			t.Errorf("StreamID = %d, want %d", msg.StreamID, want)
		}
	}
	if _, ok, _ := r.next(); ok {
		t.Error("next() returned a fourth frame")
	}
	if n := r.buffered(); n != 0 {
		t.Errorf("buffered() = %d, want 0", n)
	}
}

func TestFrameReader_FrameSplitAcrossMessages(t *testing.T) {
	frame, err := appendFrame(nil, &Message{Type: TypeData, StreamID: 4, Payload: []byte("split payload")})
	if err != nil {
		t.Fatalf("appendFrame() error = %v", err)
	}

	var r frameReader
	for _, part := range [][]byte{frame[:1], frame[1:5]} {
		r.feed(part)
		if _, ok, err := r.next(); ok || err != nil {
			t.Fatalf("next() on partial frame = (%v, %v)", ok, err)
		}
	}
	if n := r.buffered(); n != 5 {
		t.Errorf("buffered() = %d, want 5", n)
	}

	r.feed(frame[5:])
	msg, ok, err := r.next()
	if err != nil || !ok {
		t.Fatalf("next() = (%v, %v)", ok, err)
	}
	if string(msg.Payload) != "split payload" {
		t.Errorf("Payload = %q", msg.Payload)
	}
}

func TestFrameReader_SkipsMalformedFrame(t *testing.T) {
	data := []byte{0x00, 0x02, 0x08, 0x80}
	data, _ = appendFrame(data, &Message{Type: TypeSessionReset})

	var r frameReader
	r.feed(data)
	if _, _, err := r.next(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("next() error = %v, want ErrMalformedFrame", err)
	}
	msg, ok, err := r.next()
	if err != nil || !ok || msg.Type != TypeSessionReset {
		t.Errorf("next() after malformed frame = (%+v, %v, %v)", msg, ok, err)
	}
}
