// Package config handles loading and validating the Beluga agent configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with BELUGA_* environment variables
//   - Validation of required fields, including MQTT auth exclusivity
//   - Default value handling
//
// Security Considerations:
//   - Passwords and tokens should be set via environment variables
//   - Certificate and key paths should point at files readable only by the agent
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Thing.Name)
package config
