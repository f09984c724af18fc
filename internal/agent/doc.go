// Package agent runs the default device behaviour on top of one MQTT
// session.
//
// Once the session is up the agent:
//   - bootstraps a Jobs client, asks for the pending executions and starts
//     the next one whenever the service announces a change
//   - hands started executions to an optional Executor and reports its
//     verdict back to the Jobs service
//   - listens for secure tunnel notifications and, for destination-mode
//     tunnels, forwards every stream to the configured local service
//
// Every execution and tunnel session is written to the journal, and
// connection, job and tunnel events are sent to the telemetry client when
// one is configured.
//
// Shutdown is driven by the context passed to Run: the open tunnel is
// stopped first, then the Jobs and notify clients are closed, then the
// MQTT session is disconnected.
package agent
