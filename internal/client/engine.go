package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrStopped      = errors.New("client: engine stopped")
)

const (
	DefaultPingInterval = 20 * time.Second
	DefaultPongWait     = 10 * time.Second
	writeWait           = 5 * time.Second
)

// Conn is the part of *websocket.Conn the engine uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	URL          string
	Dialer       Dialer
	Clock        clock.Clock
	Backoff      Backoff
	PingInterval time.Duration
	PongWait     time.Duration
	// OnMessage receives every envelope other than pong, on the reader goroutine.
	OnMessage func(domain.Envelope)
	// OnState is called from the event loop after every state change.
	OnState func(State)
}

type loopEvent struct {
	Event
	gen    uint64
	conn   Conn
	err    error
	cookie *http.Cookie
	pong   bool
}

// Engine owns one outbound connection. All state lives on the Run goroutine;
// timers and socket goroutines only post events tagged with the dial
// generation they belong to, and stale ones are dropped.
type Engine struct {
	opts   Options
	events chan loopEvent
	stop   chan struct{}

	// owned by Run
	m          Machine
	gen        uint64
	cookie     *http.Cookie
	cancelDial context.CancelFunc
	retry      *clock.Timer
	pingTicker *clock.Ticker
	deadline   *clock.Timer
	hbStop     chan struct{}

	mu      sync.Mutex
	state   State
	conn    Conn
	writeMu sync.Mutex
}

func New(opts Options) *Engine {
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Backoff.MaxAttempts <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	return &Engine{
		opts:   opts,
		events: make(chan loopEvent, 64),
		stop:   make(chan struct{}),
		m:      NewMachine(opts.Backoff),
	}
}

// Login stores the session cookie and starts connecting.
func (e *Engine) Login(cookie *http.Cookie) error {
	if cookie == nil || cookie.Value == "" {
		return errors.New("client: empty session")
	}
	return e.post(loopEvent{Event: Event{Kind: EventLogin}, cookie: cookie})
}

// Logout drops the session, cancels any pending retry or dial and closes the
// live connection.
func (e *Engine) Logout() error {
	return e.post(loopEvent{Event: Event{Kind: EventLogout}})
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Send writes env on the live connection.
func (e *Engine) Send(env domain.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	e.mu.Lock()
	conn, state := e.conn, e.state
	e.mu.Unlock()
	if conn == nil || state != Connected {
		return ErrNotConnected
	}
	return e.write(conn, b)
}

func (e *Engine) write(conn Conn, b []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (e *Engine) post(ev loopEvent) error {
	select {
	case e.events <- ev:
		return nil
	case <-e.stop:
		return ErrStopped
	}
}

// Run is the event loop. It returns when ctx is done, after logging out.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stop)
	for {
		select {
		case <-ctx.Done():
			e.handle(loopEvent{Event: Event{Kind: EventLogout}})
			log.Info().Str("module", "client").Msg("engine stopped")
			return nil
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev loopEvent) {
	if ev.pong {
		if ev.gen == e.gen {
			e.rearmDeadline()
		}
		return
	}

	switch ev.Kind {
	case EventDialOK, EventDialFailed, EventClosed, EventHeartbeatExpired, EventRetry:
		if ev.gen != e.gen {
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			return
		}
	}

	switch ev.Kind {
	case EventLogin:
		e.cookie = ev.cookie
	case EventDialOK:
		e.setConn(ev.conn)
	case EventDialFailed:
		log.Warn().Err(ev.err).Str("module", "client").Int("failures", e.m.Failures+1).Msg("dial failed")
	case EventClosed:
		log.Info().Str("module", "client").Int("code", ev.Code).Msg("connection closed")
		e.closeConn()
	}

	prev := e.m.State
	next, effects := e.m.Step(ev.Event)
	e.m = next
	for _, eff := range effects {
		e.apply(eff)
	}
	e.setState(next.State)
	if prev != next.State {
		log.Debug().Str("module", "client").Stringer("from", prev).Stringer("to", next.State).Msg("state change")
	}
}

func (e *Engine) apply(eff Effect) {
	switch eff.Kind {
	case EffectDial:
		e.dial()
	case EffectCancelDial:
		if e.cancelDial != nil {
			e.cancelDial()
			e.cancelDial = nil
		}
		e.gen++
	case EffectScheduleRetry:
		e.cancelRetry()
		gen := e.gen
		log.Info().Str("module", "client").Dur("delay", eff.Delay).Msg("retry scheduled")
		e.retry = e.opts.Clock.AfterFunc(eff.Delay, func() {
			_ = e.post(loopEvent{Event: Event{Kind: EventRetry}, gen: gen})
		})
	case EffectCancelRetry:
		e.cancelRetry()
	case EffectStartHeartbeat:
		e.startHeartbeat()
	case EffectStopHeartbeat:
		e.stopHeartbeat()
	case EffectCloseConn:
		e.closeConn()
	case EffectClearSession:
		log.Warn().Str("module", "client").Msg("session rejected, logging out")
		e.cookie = nil
	}
}

func (e *Engine) dial() {
	if e.cookie == nil {
		return
	}
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelDial = cancel

	header := http.Header{}
	header.Add("Cookie", e.cookie.String())
	url := e.opts.URL
	dialer := e.opts.Dialer

	go func() {
		defer cancel()
		conn, err := dialer.Dial(ctx, url, header)
		if err != nil {
			_ = e.post(loopEvent{Event: Event{Kind: EventDialFailed}, gen: gen, err: err})
			return
		}
		if err := e.post(loopEvent{Event: Event{Kind: EventDialOK}, gen: gen, conn: conn}); err != nil {
			_ = conn.Close()
		}
	}()
}

func (e *Engine) setConn(conn Conn) {
	e.cancelDial = nil
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	go e.readLoop(e.gen, conn)
}

func (e *Engine) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			_ = e.post(loopEvent{Event: Event{Kind: EventClosed, Code: code}, gen: gen})
			return
		}
		env, err := domain.DecodeEnvelope(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		if env.Type == domain.TypePong {
			_ = e.post(loopEvent{gen: gen, pong: true})
			continue
		}
		if e.opts.OnMessage != nil {
			e.opts.OnMessage(env)
		}
	}
}

func (e *Engine) startHeartbeat() {
	e.stopHeartbeat()
	stop := make(chan struct{})
	e.hbStop = stop
	e.pingTicker = e.opts.Clock.Ticker(e.opts.PingInterval)
	e.rearmDeadline()

	ticker := e.pingTicker
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	ping, _ := json.Marshal(domain.Envelope{Type: domain.TypePing})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := e.write(conn, ping); err != nil {
					log.Debug().Err(err).Str("module", "client").Msg("ping failed")
				}
			}
		}
	}()
}

// rearmDeadline pushes the pong deadline one ping window plus the pong wait
// into the future.
func (e *Engine) rearmDeadline() {
	if e.hbStop == nil {
		return
	}
	if e.deadline != nil {
		e.deadline.Stop()
	}
	gen := e.gen
	e.deadline = e.opts.Clock.AfterFunc(e.opts.PingInterval+e.opts.PongWait, func() {
		_ = e.post(loopEvent{Event: Event{Kind: EventHeartbeatExpired}, gen: gen})
	})
}

func (e *Engine) stopHeartbeat() {
	if e.hbStop != nil {
		close(e.hbStop)
		e.hbStop = nil
	}
	if e.pingTicker != nil {
		e.pingTicker.Stop()
		e.pingTicker = nil
	}
	if e.deadline != nil {
		e.deadline.Stop()
		e.deadline = nil
	}
}

func (e *Engine) cancelRetry() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
}

func (e *Engine) closeConn() {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn == nil {
		return
	}
	e.gen++
	e.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	e.writeMu.Unlock()
	_ = conn.Close()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	e.mu.Unlock()
	if changed && e.opts.OnState != nil {
		e.opts.OnState(s)
	}
}
