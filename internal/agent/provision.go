package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/inomotech-foss/beluga/internal/infrastructure/config"
	"github.com/inomotech-foss/beluga/internal/infrastructure/logging"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
	"github.com/inomotech-foss/beluga/internal/provision"
)

// Provision connects with the claim credentials of cfg.MQTT, obtains a
// device certificate, registers the thing through cfg.Provision.Template
// and saves the issued credentials and thing name to the configured
// paths.
//
// The certificate comes from cfg.Provision.CSRFile when set, and from a
// key pair generated by AWS IoT otherwise.
//
// Parameters:
//   - ctx: Bounds the whole run; each request is also bounded by the
//     provisioning timeout
//   - cfg: Agent configuration with the mqtt and provision sections
//   - logger: Receives progress logs (may be nil)
//
// Returns:
//   - *provision.RegisterThingResponse: The registered thing
//   - error: Connection, request or file failure
func Provision(ctx context.Context, cfg config.Config, logger *logging.Logger) (*provision.RegisterThingResponse, error) {
	pc := cfg.Provision
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	format, err := provision.ParseFormat(pc.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	var csr []byte
	if pc.CSRFile != "" {
		if csr, err = os.ReadFile(pc.CSRFile); err != nil {
			return nil, fmt.Errorf("reading certificate signing request: %w", err)
		}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.Component("provision")

	connected := make(chan error, 1)
	closed := make(chan struct{})
	var closeOnce sync.Once
	conn, err := mqtt.Connect(cfg.MQTT, mqtt.LifecycleFuncs{
		Completed: func(err error, _ byte, _ bool) {
			select {
			case connected <- err:
			default:
			}
		},
		Closed: func() { closeOnce.Do(func() { close(closed) }) },
	}, logger.Component("mqtt"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	defer func() {
		if err := conn.Disconnect(); err == nil {
			select {
			case <-closed:
			case <-time.After(disconnectTimeout):
			}
		}
		if err := conn.Close(); err != nil {
			log.Warn("closing mqtt connection", "error", err)
		}
	}()

	select {
	case err := <-connected:
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	log.Info("mqtt connected with claim credentials", "endpoint", cfg.MQTT.Endpoint)

	client, err := provision.NewClient(conn, format, byte(pc.QoS), logger.Component("provision"))
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, pc.GetTimeout())
	var cert *provision.CertificateInfo
	if csr != nil {
		cert, err = client.CreateCertificateFromCSR(reqCtx, string(csr))
	} else {
		cert, err = client.CreateKeysAndCertificate(reqCtx)
	}
	cancel()
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}
	log.Info("certificate issued", "certificate_id", cert.CertificateID)

	reqCtx, cancel = context.WithTimeout(ctx, pc.GetTimeout())
	resp, err := client.RegisterThing(reqCtx, pc.Template, cert.OwnershipToken, pc.Parameters)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("registering thing: %w", err)
	}

	if err := saveCredentials(pc, cert, resp.ThingName); err != nil {
		return nil, err
	}
	log.Info("thing provisioned",
		"thing", resp.ThingName,
		"template", pc.Template,
		"certificate", pc.CertificateOut,
	)
	return resp, nil
}

// saveCredentials writes the certificate, the private key when one was
// issued, and the thing name when a path is configured for it.
func saveCredentials(pc config.ProvisionConfig, cert *provision.CertificateInfo, thingName string) error {
	files := []struct {
		path string
		data string
		perm os.FileMode
	}{
		{pc.CertificateOut, cert.CertificatePEM, 0o644},
		{pc.PrivateKeyOut, cert.PrivateKey, 0o600},
		{pc.ThingNameOut, thingName, 0o644},
	}
	for _, f := range files {
		if f.path == "" || f.data == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.path, err)
		}
		if err := os.WriteFile(f.path, []byte(f.data), f.perm); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
	}
	return nil
}
