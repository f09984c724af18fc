package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementConnection  = "mqtt_connection"
	MeasurementJobs        = "jobs"
	MeasurementTunnel      = "tunnel"
	MeasurementTunnelBytes = "tunnel_bytes"
)

// WriteConnectionEvent records an MQTT session event such as "connected",
// "interrupted", "resumed" or "disconnected".
//
// Parameters:
//   - event: Event name, stored as a tag
//   - sessionPresent: Whether the broker kept the session
func (c *Client) WriteConnectionEvent(event string, sessionPresent bool) {
	c.WritePoint(MeasurementConnection,
		map[string]string{"event": event},
		map[string]any{
			"count":           1,
			"session_present": sessionPresent,
		},
	)
}

// WriteJobEvent records a Jobs protocol event for jobID.
//
// Parameters:
//   - jobID: Job identifier, stored as a tag
//   - event: Event name (e.g., "started", "update_accepted", "rejected")
//   - status: Execution status or rejection code; may be empty
//
// Example:
//
//	client.WriteJobEvent("fw-42", "update_accepted", "SUCCEEDED")
func (c *Client) WriteJobEvent(jobID, event, status string) {
	fields := map[string]any{"count": 1}
	if status != "" {
		fields["status"] = status
	}
	c.WritePoint(MeasurementJobs,
		map[string]string{"job_id": jobID, "event": event},
		fields,
	)
}

// WriteTunnelEvent records a tunnel lifecycle or stream event.
//
// Parameters:
//   - event: Event name (e.g., "notified", "connected", "stream_started")
//   - mode: Local role, "source" or "destination"
//   - serviceID: Service of a stream event; may be empty
func (c *Client) WriteTunnelEvent(event, mode, serviceID string) {
	fields := map[string]any{"count": 1}
	if serviceID != "" {
		fields["service_id"] = serviceID
	}
	c.WritePoint(MeasurementTunnel,
		map[string]string{"event": event, "mode": mode},
		fields,
	)
}

// WriteTunnelBytes records the bytes forwarded through a tunnel since the
// previous write.
//
// Parameters:
//   - in: Bytes received from the tunnel
//   - out: Bytes sent into the tunnel
func (c *Client) WriteTunnelBytes(in, out uint64) {
	c.WritePoint(MeasurementTunnelBytes, nil, map[string]any{
		"bytes_in":  in,
		"bytes_out": out,
	})
}

// WritePoint writes a point stamped with the current time. It is a no-op
// on a nil or closed client.
//
// Example:
//
//	client.WritePoint("agent", map[string]string{"component": "journal"},
//	    map[string]any{"rows": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
