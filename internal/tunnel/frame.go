package tunnel

import (
	"encoding/binary"
	"fmt"
)

// Frame limits.
const (
	// frameHeaderSize is the 2-byte big-endian length prefix.
	frameHeaderSize = 2

	// maxFrameSize is the largest encoded Message a length prefix can
	// describe.
	maxFrameSize = 1<<16 - 1

	// MaxPayloadSize is the largest payload accepted by SendMessage. It
	// leaves room for the other Message fields inside one frame.
	MaxPayloadSize = 63 * 1024
)

// appendFrame appends the length-prefixed encoding of m to b.
func appendFrame(b []byte, m *Message) ([]byte, error) {
	size := m.Size()
	if size > maxFrameSize {
		return b, fmt.Errorf("%w: %d byte message exceeds frame limit", ErrPayloadTooLarge, size)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(size))
	return m.AppendMarshal(b), nil
}

// frameReader reassembles frames from websocket messages. A websocket
// message may carry several frames, and a frame may span messages.
type frameReader struct {
	buf []byte
	off int
}

// feed appends websocket message data. Payloads returned by earlier calls
// to next are invalidated.
func (r *frameReader) feed(p []byte) {
	if r.off > 0 {
		n := copy(r.buf, r.buf[r.off:])
		r.buf = r.buf[:n]
		r.off = 0
	}
	r.buf = append(r.buf, p...)
}

// next decodes the next complete frame. ok is false when more data is
// needed.
func (r *frameReader) next() (msg Message, ok bool, err error) {
	pending := r.buf[r.off:]
	if len(pending) < frameHeaderSize {
		return Message{}, false, nil
	}
	size := int(binary.BigEndian.Uint16(pending))
	if len(pending) < frameHeaderSize+size {
		return Message{}, false, nil
	}

	body := pending[frameHeaderSize : frameHeaderSize+size]
	r.off += frameHeaderSize + size
	if err := msg.Unmarshal(body); err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// buffered returns the number of bytes waiting for the rest of a frame.
func (r *frameReader) buffered() int {
	return len(r.buf) - r.off
}
