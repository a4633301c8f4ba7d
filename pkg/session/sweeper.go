package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the background sweeper prunes the registry
const DefaultSweepInterval = time.Minute

// Sweeper prunes expired sessions on a schedule so idle memory is released
// even when no requests arrive. Lookups still prune lazily on their own.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper for registry
func NewSweeper(registry *Registry, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the periodic sweep
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSweeperRunning
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.SweepNow() }); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("ttl", s.registry.TTL()).
		Msg("Session sweeper started")

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrSweeperStopped
	}

	<-s.cron.Stop().Done()
	s.cron = nil
	s.running = false

	s.logger.Info().Msg("Session sweeper stopped")
	return nil
}

// IsRunning reports whether the schedule is active
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the sweep interval
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// SweepNow prunes immediately and returns the number of evicted sessions
func (s *Sweeper) SweepNow() int {
	pruned := s.registry.Prune()
	if pruned > 0 {
		s.logger.Info().Int("pruned", pruned).Msg("Swept expired sessions")
	}
	return pruned
}
