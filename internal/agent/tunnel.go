package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/inomotech-foss/beluga/internal/journal"
	"github.com/inomotech-foss/beluga/internal/tunnel"
)

// tunnelSession is the tunnel currently opened by the agent.
type tunnelSession struct {
	id   string
	mode tunnel.Mode
	tun  *tunnel.Tunnel
	fwd  *tunnel.Forwarder

	mu      sync.Mutex
	failure error
}

func (s *tunnelSession) setFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

func (s *tunnelSession) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (a *Agent) notifyHandler() tunnel.NotifyHandler {
	return tunnel.NotifyFuncs{
		SubscribeCompleted: func(err error) {
			if err != nil {
				a.logger.Warn("tunnel notify subscription failed", "error", err)
			}
		},
		Notification: func(n tunnel.Notification) {
			select {
			case a.notifications <- n:
			default:
				a.logger.Warn("tunnel notification dropped, queue full", "region", n.Region)
			}
		},
		NotificationError: func(err error) {
			a.logger.Warn("undecodable tunnel notification", "error", err)
		},
	}
}

// runTunnels opens a tunnel per notification and closes the previous one.
// A tunnel that ends on its own is journaled when its Done fires.
func (a *Agent) runTunnels(ctx context.Context) error {
	for {
		var done <-chan struct{}
		if a.session != nil {
			done = a.session.tun.Done()
		}

		select {
		case <-ctx.Done():
			a.closeTunnel()
			return nil
		case n := <-a.notifications:
			a.openTunnel(n)
		case <-done:
			a.finishTunnel()
		}
	}
}

func (a *Agent) openTunnel(n tunnel.Notification) {
	log := a.logger.Component("tunnel")
	a.telemetry.WriteTunnelEvent("notified", string(n.ClientMode), strings.Join(n.Services, ","))

	if n.ClientMode != tunnel.ModeDestination {
		log.Warn("ignoring tunnel notification", "mode", n.ClientMode, "region", n.Region)
		return
	}
	if a.session != nil {
		log.Info("replacing open tunnel", "client_token", a.session.id)
		a.closeTunnel()
	}

	cfg := tunnel.ConfigFromNotification(n)
	cfg.Endpoint = tunnelEndpoint(a.cfg.Tunnel.Endpoint, n.Region)

	s := &tunnelSession{mode: n.ClientMode}
	s.fwd = tunnel.NewForwarder(a.cfg.Tunnel.Services, a.tunnelHandler(s), log)
	tun, err := tunnel.New(cfg, s.fwd, log)
	if err != nil {
		log.Error("creating tunnel", "region", n.Region, "error", err)
		a.telemetry.WriteTunnelEvent("failed", string(n.ClientMode), "")
		s.fwd.Close()
		return
	}
	s.fwd.Attach(tun)
	s.tun = tun
	s.id = tun.ClientToken()

	ctx, cancel := journalContext()
	err = a.journal.OpenTunnelSession(ctx, &journal.TunnelSession{
		ID:        s.id,
		ThingName: a.cfg.Thing.Name,
		Region:    n.Region,
		Mode:      string(n.ClientMode),
		Services:  n.Services,
		State:     journal.SessionNotified,
	})
	cancel()
	if err != nil {
		log.Error("journal: opening tunnel session", "client_token", s.id, "error", err)
	}

	if err := tun.Start(); err != nil {
		log.Error("starting tunnel", "client_token", s.id, "error", err)
		s.fwd.Close()
		return
	}
	a.session = s
}

// tunnelHandler journals the connection events of s. The Forwarder calls
// it after handling each event itself.
func (a *Agent) tunnelHandler(s *tunnelSession) tunnel.Handler {
	return tunnel.Handlers{
		ConnectionSuccess: func(serviceIDs []string) {
			a.updateSession(s, journal.SessionUpdate{State: journal.SessionConnected})
			a.telemetry.WriteTunnelEvent("connected", string(s.mode), strings.Join(serviceIDs, ","))
		},
		ConnectionFailure: func(err error) {
			s.setFailure(err)
			a.telemetry.WriteTunnelEvent("failed", string(s.mode), "")
		},
		ConnectionShutdown: func() {
			a.telemetry.WriteTunnelEvent("shutdown", string(s.mode), "")
		},
		StreamStarted: func(_ uint32, serviceID string) {
			a.telemetry.WriteTunnelEvent("stream_started", string(s.mode), serviceID)
		},
		StreamStopped: func(serviceID string) {
			a.telemetry.WriteTunnelEvent("stream_stopped", string(s.mode), serviceID)
		},
		SessionReset: func() {
			a.telemetry.WriteTunnelEvent("session_reset", string(s.mode), "")
		},
	}
}

// closeTunnel stops the open tunnel, if any, and journals it.
func (a *Agent) closeTunnel() {
	if a.session == nil {
		return
	}
	if err := a.session.tun.Stop(); err != nil && !errors.Is(err, tunnel.ErrClosed) {
		a.logger.Debug("stopping tunnel", "client_token", a.session.id, "error", err)
	}
	a.finishTunnel()
}

// finishTunnel closes the local connections of the ended tunnel and
// writes its final state and byte counters.
func (a *Agent) finishTunnel() {
	s := a.session
	a.session = nil

	s.fwd.Close()
	in, out := s.fwd.Stats()
	update := journal.SessionUpdate{State: journal.SessionClosed, BytesIn: in, BytesOut: out}
	if err := s.err(); err != nil {
		update.State = journal.SessionFailed
		update.Error = err.Error()
	}
	a.updateSession(s, update)
	a.telemetry.WriteTunnelBytes(in, out)
	a.logger.Info("tunnel ended",
		"client_token", s.id,
		"state", update.State,
		"bytes_in", in,
		"bytes_out", out,
	)
}

func (a *Agent) updateSession(s *tunnelSession, u journal.SessionUpdate) {
	ctx, cancel := journalContext()
	defer cancel()

	if err := a.journal.UpdateTunnelSession(ctx, s.id, u); err != nil {
		a.logger.Error("journal: updating tunnel session", "client_token", s.id, "state", u.State, "error", err)
	}
}

// tunnelEndpoint fills the region into a configured endpoint template.
// An empty template selects the regional endpoint.
func tunnelEndpoint(template, region string) string {
	return strings.Replace(template, "%s", region, 1)
}
