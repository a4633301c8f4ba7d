package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/companion/internal/config"
	"github.com/harun/companion/internal/logger"
	"github.com/harun/companion/internal/observability"
	"github.com/harun/companion/internal/tracing"
	"github.com/harun/companion/pkg/gateway"
	"github.com/harun/companion/pkg/mediator"
	"github.com/harun/companion/pkg/session"
)

// Daemon represents the Companion service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	core    *Core
	sweeper *session.Sweeper

	// Services
	gatewayServer *gateway.Server

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Sessions  int           `json:"sessions"`
	Clients   int           `json:"clients"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initialize(); err != nil {
		cancel()
		d.shutdownTracing()
		return nil, err
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initialize builds the chat core and the services in front of it
func (d *Daemon) initialize() error {
	core, err := NewCore(d.config, d.logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to initialize core modules: %w", err)
	}
	d.core = core

	d.sweeper = session.NewSweeper(core.Registry, d.config.Sessions.SweepInterval, d.logger.Component("sweeper"))

	if d.config.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Host:           d.config.Gateway.Host,
			Port:           d.config.Gateway.Port,
			SharedSecret:   d.config.Gateway.SharedSecret,
			MaxBodyBytes:   d.config.Gateway.MaxBodyBytes,
			AllowedOrigins: d.config.Gateway.AllowedOrigins,
			Chat:           core.Mediator,
			Sessions:       core.Registry,
			Logger:         d.logger.Component("gateway"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize gateway: %w", err)
		}
		d.gatewayServer = server
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting Companion daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			_ = d.lifecycle.Stop()
			d.markStopped()
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")
	}

	if d.config.Sessions.SweepInterval > 0 {
		if err := d.sweeper.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start session sweeper")
		} else {
			logger.Info().Dur("interval", d.sweeper.Interval()).Msg("Session sweeper started")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().
		Int("variants", len(d.config.Models.Variants)).
		Dur("session_ttl", d.core.Registry.TTL()).
		Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping Companion daemon")

	if d.gatewayServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.gatewayServer.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
		cancel()
	}

	if d.sweeper.IsRunning() {
		if err := d.sweeper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session sweeper")
		}
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing()

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.core.Registry.Count(),
	}

	if d.gatewayServer != nil {
		status.Clients = len(d.gatewayServer.GetConnectedClients())
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetSessionRegistry returns the session registry
func (d *Daemon) GetSessionRegistry() *session.Registry {
	return d.core.Registry
}

// GetMediator returns the chat mediator
func (d *Daemon) GetMediator() *mediator.Mediator {
	return d.core.Mediator
}

// GetGatewayServer returns the gateway server, nil when disabled
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}
