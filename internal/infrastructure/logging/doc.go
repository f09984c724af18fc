// Package logging provides the structured logger shared by every Beluga
// component.
//
// One Logger is built in main from the logging section of the config and
// passed explicitly to the MQTT connection, the Jobs and tunnel clients,
// the journal and the telemetry writer. Components accept a small
// interface (Debug/Info/Warn/Error) so tests can pass Discard().
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	jobsLog := logger.Component("jobs")
//	jobsLog.Info("bootstrap complete", "thing", thingName)
//
// Never log tunnel access tokens or MQTT passwords.
package logging
