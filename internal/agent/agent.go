package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inomotech-foss/beluga/internal/infrastructure/config"
	"github.com/inomotech-foss/beluga/internal/infrastructure/influxdb"
	"github.com/inomotech-foss/beluga/internal/infrastructure/logging"
	"github.com/inomotech-foss/beluga/internal/infrastructure/mqtt"
	"github.com/inomotech-foss/beluga/internal/jobs"
	"github.com/inomotech-foss/beluga/internal/journal"
	"github.com/inomotech-foss/beluga/internal/tunnel"
)

// Agent timing and queue sizes.
const (
	// subscribeTimeout bounds the wait for the sub-acks of a bootstrap.
	subscribeTimeout = 10 * time.Second

	// responseTimeout bounds the wait for the answer to an update request.
	responseTimeout = 30 * time.Second

	// disconnectTimeout bounds the wait for OnConnectionClosed.
	disconnectTimeout = 5 * time.Second

	// journalTimeout bounds one journal write.
	journalTimeout = 5 * time.Second

	notificationQueueSize = 4
	executionQueueSize    = 4
)

// Options configures an Agent.
type Options struct {
	// Config is the full agent configuration. Thing.Name and MQTT are
	// required; the jobs and tunnel sections switch those features on.
	Config config.Config

	// Logger receives agent and component logs. Nil discards them.
	Logger *logging.Logger

	// Journal records executions and tunnel sessions. Required.
	Journal journal.Repository

	// Telemetry receives events. Nil disables telemetry.
	Telemetry *influxdb.Client

	// Executor runs started job executions. Nil leaves started
	// executions IN_PROGRESS for another process to finish.
	Executor Executor
}

// Agent owns the MQTT session and the clients built on it.
//
// Thread Safety:
//   - Run may be called once.
//   - Handlers run on MQTT and tunnel goroutines and only hand work over
//     to the goroutines started by Run, apart from journal and telemetry
//     writes.
type Agent struct {
	cfg       config.Config
	logger    *logging.Logger
	journal   journal.Repository
	telemetry *influxdb.Client
	executor  Executor

	running atomic.Bool

	conn      *mqtt.Connection
	connected chan error
	closed    chan struct{}
	closeOnce sync.Once

	jobs    *jobs.Client
	jobAcks chan error
	refresh chan struct{}
	kick    chan struct{}
	execs   chan jobs.JobInfo

	notify        *tunnel.NotifyClient
	notifications chan tunnel.Notification

	// session is owned by the runTunnels goroutine.
	session *tunnelSession
}

// New validates opts and returns an idle Agent.
func New(opts Options) (*Agent, error) {
	if err := jobs.ValidateThingName(opts.Config.Thing.Name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if opts.Journal == nil {
		return nil, fmt.Errorf("%w: journal is required", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Agent{
		cfg:           opts.Config,
		logger:        opts.Logger.Component("agent"),
		journal:       opts.Journal,
		telemetry:     opts.Telemetry,
		executor:      opts.Executor,
		connected:     make(chan error, 1),
		closed:        make(chan struct{}),
		jobAcks:       make(chan error, jobsClientSubscriptions),
		refresh:       make(chan struct{}, 1),
		kick:          make(chan struct{}, 1),
		execs:         make(chan jobs.JobInfo, executionQueueSize),
		notifications: make(chan tunnel.Notification, notificationQueueSize),
	}, nil
}

// Run connects, starts the enabled features and blocks until ctx is
// cancelled. It returns nil on a clean shutdown and ErrConnectFailed when
// the first connect attempt fails.
func (a *Agent) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	conn, err := mqtt.Connect(a.cfg.MQTT, a.lifecycle(), a.logger.Component("mqtt"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	a.conn = conn

	select {
	case err := <-a.connected:
		if err != nil {
			a.closeConnection()
			return fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
	case <-ctx.Done():
		a.closeConnection()
		return nil
	}
	a.logger.Info("mqtt connected",
		"endpoint", a.cfg.MQTT.Endpoint,
		"client_id", conn.ClientID(),
		"thing", a.cfg.Thing.Name,
	)

	if err := a.start(); err != nil {
		a.shutdown()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if a.jobs != nil {
		g.Go(func() error { return a.runJobs(gctx) })
	}
	if a.notify != nil {
		g.Go(func() error { return a.runTunnels(gctx) })
	}

	err = g.Wait()
	a.shutdown()
	return err
}

// start builds the clients of the enabled features.
func (a *Agent) start() error {
	if a.cfg.Jobs.Enabled {
		client, err := jobs.NewClient(a.conn, a.cfg.Thing.Name, byte(a.cfg.Jobs.QoS), a.jobsHandler(), a.logger.Component("jobs"))
		if err != nil {
			return fmt.Errorf("starting jobs client: %w", err)
		}
		a.jobs = client
	}

	if a.cfg.Tunnel.Enabled {
		client, err := tunnel.NewNotifyClient(a.conn, a.cfg.Thing.Name, byte(a.cfg.Tunnel.QoS), a.notifyHandler(), a.logger.Component("tunnel"))
		if err != nil {
			return fmt.Errorf("starting tunnel notify client: %w", err)
		}
		a.notify = client
	}
	return nil
}

// shutdown closes the clients and then the session.
func (a *Agent) shutdown() {
	if a.jobs != nil {
		if err := a.jobs.Close(); err != nil {
			a.logger.Warn("closing jobs client", "error", err)
		}
	}
	if a.notify != nil {
		if err := a.notify.Close(); err != nil {
			a.logger.Warn("closing tunnel notify client", "error", err)
		}
	}
	a.closeConnection()
	a.logger.Info("agent stopped")
}

// closeConnection disconnects, waits briefly for the engine to confirm
// and drops the owner reference.
func (a *Agent) closeConnection() {
	if err := a.conn.Disconnect(); err == nil {
		select {
		case <-a.closed:
		case <-time.After(disconnectTimeout):
			a.logger.Warn("mqtt disconnect not confirmed", "timeout", disconnectTimeout)
		}
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("closing mqtt connection", "error", err)
	}
	a.telemetry.Flush()
}

// lifecycle reports connection events to the log, telemetry and Run.
func (a *Agent) lifecycle() mqtt.LifecycleHandler {
	return mqtt.LifecycleFuncs{
		Completed: func(err error, returnCode byte, sessionPresent bool) {
			if err != nil {
				a.logger.Error("mqtt connect failed", "return_code", returnCode, "error", err)
				a.telemetry.WriteConnectionEvent("failed", false)
			} else {
				a.telemetry.WriteConnectionEvent("connected", sessionPresent)
			}
			select {
			case a.connected <- err:
			default:
			}
		},
		Interrupted: func(err error) {
			a.logger.Warn("mqtt connection interrupted", "error", err)
			a.telemetry.WriteConnectionEvent("interrupted", false)
		},
		Resumed: func(_ byte, sessionPresent bool) {
			a.logger.Info("mqtt connection resumed", "session_present", sessionPresent)
			a.telemetry.WriteConnectionEvent("resumed", sessionPresent)
			signal(a.refresh)
		},
		Closed: func() {
			a.logger.Info("mqtt connection closed")
			a.telemetry.WriteConnectionEvent("closed", false)
			a.closeOnce.Do(func() { close(a.closed) })
		},
	}
}

// awaitAcks waits for n sub-acks on acks. It reports false on the first
// failed subscription, on timeout or on cancellation.
func (a *Agent) awaitAcks(ctx context.Context, acks <-chan error, n int, what string) bool {
	timer := time.NewTimer(subscribeTimeout)
	defer timer.Stop()

	for range n {
		select {
		case err := <-acks:
			if err != nil {
				a.logger.Warn("subscription failed", "client", what, "error", err)
				return false
			}
		case <-timer.C:
			a.logger.Warn("subscriptions not acknowledged", "client", what, "timeout", subscribeTimeout)
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// journalContext bounds a journal write. Writes run on handler goroutines
// and during shutdown, so they do not inherit the Run context.
func journalContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), journalTimeout)
}

// signal sets a one-slot wake-up channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
