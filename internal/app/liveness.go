package app

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 10 * time.Second
)

// Reaper terminates a dead connection and runs its teardown.
type Reaper func(conn *core.Connection)

// Supervisor pings every registered connection on a fixed period and reaps
// the ones that stop answering.
type Supervisor struct {
	registry *Registry
	clock    clock.Clock
	interval time.Duration
	pongWait time.Duration
	reap     Reaper

	mu       sync.Mutex
	deadline *clock.Timer
	stopped  bool
}

func NewSupervisor(registry *Registry, clk clock.Clock, interval, pongWait time.Duration, reap Reaper) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	if pongWait <= 0 || pongWait >= interval {
		pongWait = DefaultPongWait
	}
	return &Supervisor{
		registry: registry,
		clock:    clk,
		interval: interval,
		pongWait: pongWait,
		reap:     reap,
	}
}

// Run ticks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	defer s.stop()

	log.Info().Str("module", "app.liveness").Dur("interval", s.interval).Dur("pong_wait", s.pongWait).Msg("supervisor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.liveness").Msg("supervisor stopped")
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick reaps connections that missed the previous ping, pings the rest and
// arms the pong deadline for this round.
func (s *Supervisor) Tick() {
	now := s.clock.Now()
	pinged, reaped := 0, 0
	for _, conn := range s.registry.Snapshot() {
		if conn.BeginPing(now) {
			s.kill(conn, "missed ping")
			reaped++
			continue
		}
		if err := conn.Ping(); err != nil {
			log.Debug().Err(err).Str("module", "app.liveness").Stringer("uid", conn.UserID()).Msg("ping failed")
		}
		pinged++
	}
	log.Debug().Str("module", "app.liveness").Int("pinged", pinged).Int("reaped", reaped).Msg("tick")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.deadline != nil {
		s.deadline.Stop()
	}
	s.deadline = s.clock.AfterFunc(s.pongWait, s.sweep)
}

// sweep reaps every connection still awaiting the pong of the current round.
func (s *Supervisor) sweep() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	now := s.clock.Now()
	for _, conn := range s.registry.Snapshot() {
		if conn.Expire(now, s.pongWait) {
			s.kill(conn, "pong deadline exceeded")
		}
	}
}

func (s *Supervisor) kill(conn *core.Connection, why string) {
	log.Info().Str("module", "app.liveness").Stringer("uid", conn.UserID()).Str("conn", string(conn.ID())).Str("reason", why).Msg("reaping connection")
	if s.reap != nil {
		s.reap(conn)
	}
}

func (s *Supervisor) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.deadline != nil {
		s.deadline.Stop()
	}
}
