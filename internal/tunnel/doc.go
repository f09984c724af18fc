// Package tunnel implements the device side of AWS IoT Secure Tunneling.
//
// A NotifyClient listens on the thing's tunnels/notify topic for the
// access token issued when a tunnel is opened. A Tunnel uses that token
// to connect to the tunneling service over a websocket and multiplexes
// streams over it. Each stream is identified by a connection id and
// tagged with one of up to three service ids.
//
// Frames on the websocket are a 2-byte big-endian length followed by a
// protobuf-encoded Message (see proto.go). A Forwarder bridges streams to
// local TCP services such as SSH.
package tunnel
