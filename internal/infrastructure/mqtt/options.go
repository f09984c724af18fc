package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/inomotech-foss/beluga/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connect attempt inside the engine.
	defaultConnectTimeout = 30 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// maxPayloadSize is the AWS IoT Core message size limit.
	maxPayloadSize = 128 * 1024

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// validateConfig performs the checks Connect runs before any I/O.
func validateConfig(cfg config.MQTTConfig) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrInvalidConfig)
	}
	if err := cfg.Auth.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Auth.HasCertificate() && !cfg.TLS.Enabled {
		return fmt.Errorf("%w: certificate auth requires tls.enabled", ErrInvalidConfig)
	}
	return nil
}

// buildClientOptions creates paho MQTT options from the session config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting, default port when 0)
//   - Client ID, clean session, keep alive and ping timeout
//   - Mutual-TLS client certificate or username/password
//   - Auto-reconnect after the first successful connect only
//
// Returns:
//   - *pahomqtt.ClientOptions: Options ready for pahomqtt.NewClient
//   - error: If certificate material cannot be loaded
func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS.Enabled {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Endpoint, cfg.GetPort()))

	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)

	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.GetKeepAlive())
	}
	if cfg.PingTimeout > 0 {
		opts.SetPingTimeout(cfg.GetPingTimeout())
	}

	if cfg.Auth.HasCredentials() {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// The first connect result must reach OnConnectionCompleted, so the
	// engine does not retry it. Reconnection after a drop is left to paho.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Per-subscription delivery order.
	opts.SetOrderMatters(true)

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig loads the client certificate and optional CA bundle.
func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: cfg.Endpoint,
	}

	if cfg.Auth.HasCertificate() {
		cert, err := tls.LoadX509KeyPair(cfg.Auth.Certificate, cfg.Auth.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrInvalidConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLS.CAFile != "" {
		pem, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading ca_file: %w", ErrInvalidConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: ca_file contains no certificates", ErrInvalidConfig)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
