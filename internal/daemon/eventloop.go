package daemon

import (
	"context"
	"time"

	"github.com/harun/companion/internal/observability"
)

// DefaultStatsInterval is how often the event loop reports registry stats
const DefaultStatsInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: DefaultStatsInterval,
	}
}

// Run ticks until ctx is cancelled
func (e *EventLoop) Run(ctx context.Context) {
	logger := e.daemon.logger.Component("eventloop")
	logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks()
		}
	}
}

// processTasks publishes the session gauge and logs activity
func (e *EventLoop) processTasks() {
	sessions := e.daemon.core.Registry.Count()
	observability.SetActiveSessions(sessions)

	clients := 0
	if e.daemon.gatewayServer != nil {
		clients = len(e.daemon.gatewayServer.GetConnectedClients())
	}

	if sessions > 0 || clients > 0 {
		logger := e.daemon.logger.Component("eventloop")
		logger.Debug().
			Int("sessions", sessions).
			Int("clients", clients).
			Msg("Daemon stats")
	}
}
