// Package coretest provides in-memory transports for tests.
package coretest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/google/uuid"
)

// Signal is a SignalConnection that records everything sent to it.
type Signal struct {
	mu        sync.Mutex
	frames    []core.Frame
	pings     int
	closed    bool
	code      int
	reason    string
	cap       int
	pingErr   error
	terminate bool
}

// NewSignal returns a transport whose buffer holds capacity frames; zero means
// unbounded.
func NewSignal(capacity int) *Signal {
	return &Signal{cap: capacity}
}

func (s *Signal) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if s.cap > 0 && len(s.frames) >= s.cap {
		return core.ErrBackpressure
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *Signal) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *Signal) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed, s.code, s.reason = true, code, reason
}

func (s *Signal) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed, s.terminate = true, true
}

func (s *Signal) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// CloseCode returns the close code and whether the transport was closed.
func (s *Signal) CloseCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code, s.closed
}

func (s *Signal) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminate
}

// Envelopes decodes every frame sent so far.
func (s *Signal) Envelopes() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		var env domain.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// OfType returns the sent envelopes of the given type.
func (s *Signal) OfType(typ string) []domain.Envelope {
	var out []domain.Envelope
	for _, env := range s.Envelopes() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// Drain forgets every recorded frame.
func (s *Signal) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// NewConn builds a connection for uid on a fresh unbounded Signal.
func NewConn(uid domain.UserID) (*core.Connection, *Signal) {
	sig := NewSignal(0)
	return core.NewConnection(domain.ConnID(uuid.NewString()), uid, sig, time.Now()), sig
}
