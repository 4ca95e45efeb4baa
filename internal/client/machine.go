package client

import (
	"time"

	"github.com/dkeye/voicehub/internal/domain"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	GivenUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case GivenUp:
		return "given_up"
	}
	return "unknown"
}

type EventKind int

const (
	EventLogin EventKind = iota
	EventLogout
	EventDialOK
	EventDialFailed
	EventClosed
	EventRetry
	EventHeartbeatExpired
)

// Event is an input of the machine. Code is set for EventClosed.
type Event struct {
	Kind EventKind
	Code int
}

type EffectKind int

const (
	EffectDial EffectKind = iota
	EffectCancelDial
	EffectScheduleRetry
	EffectCancelRetry
	EffectStartHeartbeat
	EffectStopHeartbeat
	EffectCloseConn
	EffectClearSession
)

type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

// Backoff is min(Base*2^n, Cap) with at most MaxAttempts retries after a
// failure.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

var DefaultBackoff = Backoff{Base: time.Second, Cap: 10 * time.Second, MaxAttempts: 5}

// Delay returns the wait before retry n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 0; i < n && d < b.Cap; i++ {
		d *= 2
	}
	if d > b.Cap {
		d = b.Cap
	}
	return d
}

// Machine is the reconnection state. It holds no timers or sockets; Step
// returns the effects the engine has to carry out.
type Machine struct {
	State      State
	Failures   int
	HasSession bool
	Backoff    Backoff
}

func NewMachine(b Backoff) Machine {
	return Machine{State: Disconnected, Backoff: b}
}

func (m Machine) Step(ev Event) (Machine, []Effect) {
	switch ev.Kind {
	case EventLogin:
		m.HasSession = true
		m.Failures = 0
		if m.State == Disconnected || m.State == GivenUp {
			m.State = Connecting
			return m, []Effect{{Kind: EffectCancelRetry}, {Kind: EffectDial}}
		}
		return m, nil

	case EventLogout:
		m.HasSession = false
		m.Failures = 0
		m.State = Disconnected
		return m, []Effect{
			{Kind: EffectCancelRetry},
			{Kind: EffectCancelDial},
			{Kind: EffectStopHeartbeat},
			{Kind: EffectCloseConn},
		}

	case EventDialOK:
		if m.State != Connecting {
			return m, []Effect{{Kind: EffectCloseConn}}
		}
		m.State = Connected
		m.Failures = 0
		return m, []Effect{{Kind: EffectStartHeartbeat}}

	case EventDialFailed:
		if m.State != Connecting {
			return m, nil
		}
		return m.retry(nil)

	case EventClosed:
		if m.State != Connected && m.State != Connecting {
			return m, nil
		}
		stop := []Effect{{Kind: EffectStopHeartbeat}}
		switch ev.Code {
		case domain.CloseUnauthorized:
			m.State = Disconnected
			m.HasSession = false
			m.Failures = 0
			return m, append(stop, Effect{Kind: EffectClearSession})
		case domain.CloseSuperseded:
			m.State = Disconnected
			m.Failures = 0
			return m, stop
		}
		return m.retry(stop)

	case EventHeartbeatExpired:
		if m.State != Connected {
			return m, nil
		}
		return m.retry([]Effect{{Kind: EffectStopHeartbeat}, {Kind: EffectCloseConn}})

	case EventRetry:
		if m.State != Disconnected || !m.HasSession {
			return m, nil
		}
		m.State = Connecting
		return m, []Effect{{Kind: EffectDial}}
	}
	return m, nil
}

func (m Machine) retry(effects []Effect) (Machine, []Effect) {
	m.Failures++
	if !m.HasSession {
		m.State = Disconnected
		return m, effects
	}
	if m.Failures > m.Backoff.MaxAttempts {
		m.State = GivenUp
		return m, effects
	}
	m.State = Disconnected
	return m, append(effects, Effect{Kind: EffectScheduleRetry, Delay: m.Backoff.Delay(m.Failures - 1)})
}
