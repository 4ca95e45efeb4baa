package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/voicehub/internal/domain"
)

// Liveness is the ping/pong state of a connection.
type Liveness int

const (
	Alive Liveness = iota
	AwaitingPong
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case AwaitingPong:
		return "awaiting_pong"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// Connection binds an authenticated user to its transport endpoint.
// The identity is fixed at accept time and never re-derived.
type Connection struct {
	id          domain.ConnID
	user        domain.UserID
	signal      SignalConnection
	connectedAt time.Time

	mu         sync.Mutex
	liveness   Liveness
	pingSentAt time.Time
	lastPongAt time.Time

	closeOnce    sync.Once
	done         chan struct{}
	teardownOnce sync.Once
}

func NewConnection(id domain.ConnID, user domain.UserID, signal SignalConnection, now time.Time) *Connection {
	return &Connection{
		id:          id,
		user:        user,
		signal:      signal,
		connectedAt: now,
		lastPongAt:  now,
		done:        make(chan struct{}),
	}
}

func (c *Connection) ID() domain.ConnID        { return c.id }
func (c *Connection) UserID() domain.UserID    { return c.user }
func (c *Connection) ConnectedAt() time.Time   { return c.connectedAt }
func (c *Connection) Done() <-chan struct{}    { return c.done }
func (c *Connection) Signal() SignalConnection { return c.signal }

func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// SendFrame queues an already encoded envelope.
func (c *Connection) SendFrame(f Frame) error {
	if c.Closed() {
		return ErrClosed
	}
	return c.signal.TrySend(f)
}

// Send encodes and queues an envelope.
func (c *Connection) Send(env domain.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.SendFrame(b)
}

// Ping sends a transport ping unless the connection is already closed.
func (c *Connection) Ping() error {
	if c.Closed() {
		return ErrClosed
	}
	return c.signal.Ping()
}

// BeginPing moves the connection to AwaitingPong. If the previous ping was
// never answered the connection becomes Dead and missed is true.
func (c *Connection) BeginPing(now time.Time) (missed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.liveness {
	case AwaitingPong, Dead:
		c.liveness = Dead
		return true
	}
	c.liveness = AwaitingPong
	c.pingSentAt = now
	return false
}

// MarkAlive records a pong. A Dead connection stays dead.
func (c *Connection) MarkAlive(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveness == Dead {
		return
	}
	c.liveness = Alive
	c.lastPongAt = now
}

// Expire marks the connection Dead when it has been awaiting a pong for at
// least deadline.
func (c *Connection) Expire(now time.Time, deadline time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveness != AwaitingPong || now.Sub(c.pingSentAt) < deadline {
		return c.liveness == Dead
	}
	c.liveness = Dead
	return true
}

func (c *Connection) Liveness() (Liveness, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveness, c.lastPongAt
}

// Close sends a close frame once. Later Close or Terminate calls are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.signal.Close(code, reason)
	})
}

// Terminate drops the transport without a close handshake.
func (c *Connection) Terminate() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.signal.Terminate()
	})
}

// Teardown runs fn the first time it is called for this connection and
// reports whether it ran.
func (c *Connection) Teardown(fn func()) bool {
	ran := false
	c.teardownOnce.Do(func() {
		ran = true
		fn()
	})
	return ran
}
