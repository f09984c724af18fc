package config

import (
	"fmt"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Beluga agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Thing     ThingConfig     `yaml:"thing"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	Provision ProvisionConfig `yaml:"provision"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ThingConfig identifies the device in the cloud IoT registry.
type ThingConfig struct {
	Name string `yaml:"name"`
}

// MQTTConfig contains the MQTT session settings.
type MQTTConfig struct {
	// Endpoint is the broker host name, e.g. "abc123-ats.iot.eu-west-1.amazonaws.com".
	Endpoint string `yaml:"endpoint"`

	// Port overrides the protocol default. 0 selects 8883 with TLS and 1883 without.
	Port int `yaml:"port"`

	ClientID     string `yaml:"client_id"`
	CleanSession bool   `yaml:"clean_session"`

	// KeepAlive is the keep-alive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`

	// PingTimeout is how long to wait for a PINGRESP, in milliseconds.
	PingTimeout int `yaml:"ping_timeout_ms"`

	QoS  int            `yaml:"qos"`
	TLS  MQTTTLSConfig  `yaml:"tls"`
	Auth MQTTAuthConfig `yaml:"auth"`
}

// MQTTTLSConfig contains transport security settings.
type MQTTTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CAFile is an optional PEM bundle used instead of the system roots.
	CAFile string `yaml:"ca_file"`
}

// MQTTAuthConfig contains MQTT authentication material.
// Exactly one of certificate+private key or username+password must be set.
type MQTTAuthConfig struct {
	Certificate string `yaml:"certificate"`
	PrivateKey  string `yaml:"private_key"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// HasCertificate reports whether mutual-TLS material is configured.
func (a MQTTAuthConfig) HasCertificate() bool {
	return a.Certificate != "" && a.PrivateKey != ""
}

// HasCredentials reports whether username/password material is configured.
func (a MQTTAuthConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// Validate checks that exactly one auth mode is configured.
func (a MQTTAuthConfig) Validate() error {
	cert, creds := a.HasCertificate(), a.HasCredentials()
	switch {
	case cert && creds:
		return fmt.Errorf("both certificate and username/password are configured")
	case !cert && !creds:
		return fmt.Errorf("either certificate+private_key or username+password is required")
	}
	return nil
}

// JobsConfig contains Jobs protocol settings.
type JobsConfig struct {
	Enabled bool `yaml:"enabled"`
	QoS     int  `yaml:"qos"`
}

// TunnelConfig contains secure tunneling settings.
type TunnelConfig struct {
	Enabled bool `yaml:"enabled"`
	QoS     int  `yaml:"qos"`

	// Endpoint overrides the regional tunneling endpoint. It may contain a
	// single %s which is replaced with the region.
	Endpoint string `yaml:"endpoint"`

	// Services maps a tunnel service id to the local address it forwards to.
	Services map[string]string `yaml:"services"`
}

// ProvisionConfig contains fleet provisioning settings, used by
// `beluga --provision` to exchange claim credentials for a device
// certificate.
type ProvisionConfig struct {
	// Template is the provisioning template to register the thing with.
	Template string `yaml:"template"`

	// Parameters are passed to the template.
	Parameters map[string]string `yaml:"parameters"`

	// Format is the payload format of the provisioning topics: json or cbor.
	Format string `yaml:"format"`
	QoS    int    `yaml:"qos"`

	// CSRFile is a PEM certificate signing request. When set, the
	// certificate is signed from it and no private key is issued.
	CSRFile string `yaml:"csr_file"`

	// Where the issued credentials and the registered thing name are saved.
	CertificateOut string `yaml:"certificate_out"`
	PrivateKeyOut  string `yaml:"private_key_out"`
	ThingNameOut   string `yaml:"thing_name_out"`

	// Timeout bounds each provisioning request, in seconds.
	Timeout int `yaml:"timeout"`
}

// Validate checks the settings a provisioning run needs.
func (p ProvisionConfig) Validate() error {
	var errs []string
	if p.Template == "" {
		errs = append(errs, "provision.template is required")
	}
	if p.CertificateOut == "" {
		errs = append(errs, "provision.certificate_out is required")
	}
	if p.CSRFile == "" && p.PrivateKeyOut == "" {
		errs = append(errs, "provision.private_key_out is required without provision.csr_file")
	}
	if p.QoS < 0 || p.QoS > 1 {
		errs = append(errs, "provision.qos must be 0 or 1")
	}
	if p.Timeout <= 0 {
		errs = append(errs, "provision.timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("provisioning configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetTimeout returns the provisioning request timeout as a Duration.
func (p ProvisionConfig) GetTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// maxTunnelServices is the number of services one tunnel can carry.
const maxTunnelServices = 3

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BELUGA_SECTION_KEY
// For example: BELUGA_MQTT_ENDPOINT, BELUGA_THING_NAME
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	// The client id defaults to the thing name, as the cloud IoT policy
	// templates expect.
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.Thing.Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			CleanSession: true,
			KeepAlive:    30,
			PingTimeout:  3000,
			QoS:          1,
			TLS: MQTTTLSConfig{
				Enabled: true,
			},
		},
		Jobs: JobsConfig{
			Enabled: true,
			QoS:     1,
		},
		Tunnel: TunnelConfig{
			Enabled: true,
			QoS:     1,
			Services: map[string]string{
				"SSH": "127.0.0.1:22",
			},
		},
		Provision: ProvisionConfig{
			Format:  "json",
			QoS:     1,
			Timeout: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/beluga.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BELUGA_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BELUGA_THING_NAME"); v != "" {
		cfg.Thing.Name = v
	}

	// MQTT
	if v := os.Getenv("BELUGA_MQTT_ENDPOINT"); v != "" {
		cfg.MQTT.Endpoint = v
	}
	if v := os.Getenv("BELUGA_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v := os.Getenv("BELUGA_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("BELUGA_MQTT_CERTIFICATE"); v != "" {
		cfg.MQTT.Auth.Certificate = v
	}
	if v := os.Getenv("BELUGA_MQTT_PRIVATE_KEY"); v != "" {
		cfg.MQTT.Auth.PrivateKey = v
	}
	if v := os.Getenv("BELUGA_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BELUGA_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BELUGA_PROVISION_TEMPLATE"); v != "" {
		cfg.Provision.Template = v
	}

	if v := os.Getenv("BELUGA_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BELUGA_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Thing.Name == "" {
		errs = append(errs, "thing.name is required")
	}

	// MQTT validation
	if c.MQTT.Endpoint == "" {
		errs = append(errs, "mqtt.endpoint is required")
	}
	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 0 and 65535")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keep_alive must not be negative")
	}
	if c.MQTT.PingTimeout < 0 {
		errs = append(errs, "mqtt.ping_timeout_ms must not be negative")
	}
	qosFields := []struct {
		name  string
		value int
	}{
		{"mqtt.qos", c.MQTT.QoS},
		{"jobs.qos", c.Jobs.QoS},
		{"tunnel.qos", c.Tunnel.QoS},
	}
	for _, f := range qosFields {
		if f.value < 0 || f.value > 2 {
			errs = append(errs, f.name+" must be 0, 1, or 2")
		}
	}
	if err := c.MQTT.Auth.Validate(); err != nil {
		errs = append(errs, "mqtt.auth: "+err.Error())
	}

	// Tunnel validation
	if c.Tunnel.Enabled {
		if len(c.Tunnel.Services) == 0 {
			errs = append(errs, "tunnel.services must name at least one service")
		}
		if len(c.Tunnel.Services) > maxTunnelServices {
			errs = append(errs, fmt.Sprintf("tunnel.services supports at most %d services", maxTunnelServices))
		}
		for _, id := range slices.Sorted(maps.Keys(c.Tunnel.Services)) {
			addr := c.Tunnel.Services[id]
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Sprintf("tunnel.services.%s: invalid address %q", id, addr))
			}
		}
	}

	if f := c.Provision.Format; f != "json" && f != "cbor" {
		errs = append(errs, fmt.Sprintf("provision.format must be json or cbor, got %q", f))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetKeepAlive returns the MQTT keep-alive interval as a Duration.
func (c *MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// GetPingTimeout returns the MQTT ping timeout as a Duration.
func (c *MQTTConfig) GetPingTimeout() time.Duration {
	return time.Duration(c.PingTimeout) * time.Millisecond
}

// GetPort returns the configured port, or the protocol default when unset.
func (c *MQTTConfig) GetPort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLS.Enabled {
		return 8883
	}
	return 1883
}
