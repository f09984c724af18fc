// Beluga - device agent for AWS IoT Jobs and Secure Tunneling
//
// This is the main entry point of the agent. It keeps one MQTT session
// with the IoT endpoint, runs job executions announced by the Jobs
// service and forwards secure tunnel streams to local services.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/inomotech-foss/beluga/internal/agent"
	"github.com/inomotech-foss/beluga/internal/infrastructure/config"
	"github.com/inomotech-foss/beluga/internal/infrastructure/database"
	"github.com/inomotech-foss/beluga/internal/infrastructure/influxdb"
	"github.com/inomotech-foss/beluga/internal/infrastructure/logging"
	"github.com/inomotech-foss/beluga/internal/journal"
	"github.com/inomotech-foss/beluga/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM for a graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("beluga", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path of the configuration file (env BELUGA_CONFIG)")
	showVersion := flags.Bool("version", false, "print the version and exit")
	provisionOnly := flags.Bool("provision", false, "register the device with fleet provisioning, save its credentials and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("beluga %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting beluga",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if *provisionOnly {
		resp, err := agent.Provision(ctx, *cfg, log)
		if err != nil {
			return fmt.Errorf("provisioning: %w", err)
		}
		log.Info("provisioning complete", "thing", resp.ThingName)
		return nil
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Thing.Name)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	a, err := agent.New(agent.Options{
		Config:    *cfg,
		Logger:    log,
		Journal:   journal.NewSQLiteRepository(db.DB),
		Telemetry: influxClient,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.Info("initialisation complete, running agent",
		"thing", cfg.Thing.Name,
		"jobs", cfg.Jobs.Enabled,
		"tunnel", cfg.Tunnel.Enabled,
	)

	// Deferred Close() calls run after the agent has disconnected:
	// 1. InfluxDB (if enabled)
	// 2. Database
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("running agent: %w", err)
	}

	log.Info("beluga stopped")
	return nil
}

// getConfigPath returns the configuration file path: the --config flag,
// then BELUGA_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("BELUGA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the local infrastructure before the agent starts.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The MQTT session is checked by the agent: Run fails when the first
	// connect attempt does.
	return nil
}
