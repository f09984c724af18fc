// Package influxdb records agent telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, health checks and typed writers for the agent's events:
//   - mqtt_connection: connects, interruptions, resumes and disconnects
//   - jobs: execution status changes and rejected requests
//   - tunnel: notifications, connects, failures and stream events
//   - tunnel_bytes: bytes forwarded per service
//
// Every point carries a "thing" tag with the thing name given to Connect.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Thing.Name)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteJobEvent("fw-42", "update_accepted", "SUCCEEDED")
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched (batch_size, flush_interval); their errors arrive on the
// SetOnError callback. Writers on a nil *Client are no-ops, so callers can
// run with telemetry disabled without nil checks.
package influxdb
