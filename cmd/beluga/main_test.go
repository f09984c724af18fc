package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/inomotech-foss/beluga/internal/agent"
	"github.com/inomotech-foss/beluga/internal/mqtttest"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// agentConfig returns a config for a broker on port with the journal in
// dir.
func agentConfig(port int, dir string) string {
	return fmt.Sprintf(`
thing:
  name: device-1
mqtt:
  endpoint: 127.0.0.1
  port: %d
  tls:
    enabled: false
  auth:
    username: test
    password: test
jobs:
  enabled: true
tunnel:
  enabled: false
database:
  path: %s
logging:
  level: error
  format: text
`, port, filepath.Join(dir, "beluga.db"))
}

func TestRun_Version(t *testing.T) {
	if err := run(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("run(--version) error = %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run(context.Background(), []string{"--no-such-flag"}); err == nil {
		t.Fatal("run() should fail with an unknown flag")
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
thing:
  name: device-1
mqtt:
  endpoint: 127.0.0.1
  auth:
    username: test
    password: test
tunnel:
  enabled: false
database:
  path: ""
`)
	t.Setenv("BELUGA_CONFIG", path)

	err := run(context.Background(), nil)
	if err == nil {
		t.Fatal("run() should fail with an empty database path")
	}
	if !strings.Contains(err.Error(), "database.path is required") {
		t.Errorf("run() error = %v", err)
	}
}

func TestRun_BrokerUnreachable(t *testing.T) {
	path := writeConfig(t, agentConfig(mqtttest.FreePort(t), t.TempDir()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := run(ctx, []string{"--config", path})
	if !errors.Is(err, agent.ErrConnectFailed) {
		t.Fatalf("run() error = %v, want agent.ErrConnectFailed", err)
	}
}

func TestRun_CleanShutdown(t *testing.T) {
	broker := mqtttest.Start(t)
	dir := t.TempDir()
	path := writeConfig(t, agentConfig(broker.Port(), dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-c", path}) }()

	broker.WaitSubscribed("$aws/things/device-1/jobs/notify-next", 5*time.Second)
	cancel()

	if err := mqtttest.Receive(t, done, 10*time.Second, "run to return"); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "beluga.db")); err != nil {
		t.Errorf("database file: %v", err)
	}
}

func TestRun_Provision(t *testing.T) {
	broker := mqtttest.Start(t)
	dir := t.TempDir()
	broker.Handle("$aws/certificates/create/json", func(mqtttest.Message) []mqtttest.Message {
		return []mqtttest.Message{{
			Topic: "$aws/certificates/create/json/accepted",
			Payload: []byte(`{"certificateId":"cert-1","certificatePem":"CERTIFICATE",` +
				`"privateKey":"PRIVATE KEY","certificateOwnershipToken":"token-1"}`),
		}}
	})
	broker.Handle("$aws/provisioning-templates/factory/provision/json", func(mqtttest.Message) []mqtttest.Message {
		return []mqtttest.Message{{
			Topic:   "$aws/provisioning-templates/factory/provision/json/accepted",
			Payload: []byte(`{"thingName":"device-1"}`),
		}}
	})

	path := writeConfig(t, agentConfig(broker.Port(), dir)+fmt.Sprintf(`
provision:
  template: factory
  certificate_out: %s
  private_key_out: %s
  thing_name_out: %s
  timeout: 5
`, filepath.Join(dir, "device.pem.crt"), filepath.Join(dir, "private.pem.key"), filepath.Join(dir, "thing-name")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--provision", "-c", path}); err != nil {
		t.Fatalf("run(--provision) error = %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "thing-name")); err != nil || string(data) != "device-1" {
		t.Errorf("thing name file = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "beluga.db")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("database opened by a provisioning run: Stat() error = %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{"default", "", "", defaultConfigPath},
		{"env", "", "/etc/beluga/env.yaml", "/etc/beluga/env.yaml"},
		{"flag wins", "/etc/beluga/flag.yaml", "/etc/beluga/env.yaml", "/etc/beluga/flag.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BELUGA_CONFIG", tt.env)
			if got := getConfigPath(tt.flag); got != tt.want {
				t.Errorf("getConfigPath(%q) = %q, want %q", tt.flag, got, tt.want)
			}
		})
	}
}
