// Package buffer provides the ownership-tagged byte buffer used wherever
// payloads cross between the agent and the protocol engines.
//
// A Buffer is either Owned or Borrowed:
//   - Owned buffers are allocated by Create, Copy or FromString and must be
//     released exactly once with Destroy. Backing arrays are pooled.
//   - Borrowed buffers are views into memory held by someone else (an MQTT
//     message, a tunnel frame). They are valid only for the duration of the
//     callback that produced them; call Copy to keep the bytes.
//
// Destroy is a no-op on Borrowed buffers and on Owned buffers that were
// already released, so every copy of a Buffer value may call it safely.
//
// # Usage
//
//	buf := buffer.Create(512)
//	defer buf.Destroy()
//	n := copy(buf.Bytes(), payload)
//
//	conn.Publish(topic, 1, false, buf.View(), onPubAck)
package buffer
