// Package jobs implements the device side of the AWS IoT Jobs MQTT API.
//
// Two handle types are provided:
//
//   - Client is scoped to a thing. It lists pending executions, starts the
//     next pending execution and receives the notify and notify-next
//     events.
//   - Job is scoped to one job execution on that thing. It describes and
//     updates the execution.
//
// Both handles subscribe to every response topic they need when they are
// built. Construction is atomic: if any subscription cannot be issued, the
// ones already issued are withdrawn and no handle is returned.
//
// Accepted and rejected responses are delivered through separate handler
// methods. Request documents only carry the fields that were set; see
// Optional.
package jobs
