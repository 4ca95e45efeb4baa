package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Options struct {
	ReadLimit         int64
	SendBuffer        int
	WriteWait         time.Duration
	MembershipTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.MembershipTimeout <= 0 {
		o.MembershipTimeout = 3 * time.Second
	}
	return o
}

type handlerFunc func(ctx context.Context, conn *core.Connection, env domain.Envelope)

type SignalWSController struct {
	Orch      *orch.Orchestrator
	Validator core.SessionValidator
	Limiter   *UserRateLimiter
	Clock     clock.Clock

	opts     Options
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	pumps    conc.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, validator core.SessionValidator, limiter *UserRateLimiter, opts Options) *SignalWSController {
	ctl := &SignalWSController{
		Orch:      o,
		Validator: validator,
		Limiter:   limiter,
		Clock:     o.Clock,
		opts:      opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if ctl.Clock == nil {
		ctl.Clock = clock.New()
	}
	ctl.handlers = map[string]handlerFunc{
		domain.TypePing:         ctl.handlePing,
		domain.TypePong:         ctl.handlePong,
		domain.TypeJoinChannel:  ctl.handleJoin,
		domain.TypeLeaveChannel: ctl.handleLeave,
		domain.TypeToggleMute:   ctl.handleToggleMute,
		domain.TypeSignal:       ctl.handleRelay,
	}
	return ctl
}

// WsSignalConn is the websocket transport of one connection. Frames are
// written by a single write pump; control frames go straight to the socket.
type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int, writeWait time.Duration) *WsSignalConn {
	return &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, buffer),
		writeWait: writeWait,
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *WsSignalConn) Close(code int, reason string) {
	if !c.shutdown() {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Int("code", code).Msg("write close frame")
	}
	_ = c.conn.Close()
}

func (c *WsSignalConn) Terminate() {
	if !c.shutdown() {
		return
	}
	_ = c.conn.Close()
}

func (c *WsSignalConn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// HandleSignal validates the session, upgrades and starts the pumps. The
// credential is checked before the handshake; a rejected client gets a close
// frame and nothing else.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid, authErr := ctl.Validator.Validate(c.Request.Context(), c.Request)

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	if authErr != nil {
		code := domain.CloseUnauthorized
		if errors.Is(authErr, core.ErrStoreUnavailable) {
			code = domain.CloseTryAgain
		}
		log.Warn().Err(authErr).Str("module", "signal").Int("code", code).Str("remote", c.ClientIP()).Msg("refusing connection")
		refuse(ws, code, authErr.Error(), ctl.opts.WriteWait)
		return
	}

	transport := newWsSignalConn(ws, ctl.opts.SendBuffer, ctl.opts.WriteWait)
	conn := core.NewConnection(domain.ConnID(uuid.NewString()), uid, transport, ctl.Clock.Now())
	log.Info().Str("module", "signal").Stringer("uid", uid).Str("conn", string(conn.ID())).Msg("new WS connection")

	ws.SetReadLimit(ctl.opts.ReadLimit)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive(ctl.Clock.Now())
		return nil
	})

	ctl.Orch.Connect(conn)

	ctl.pumps.Go(func() { ctl.writePump(ctx, conn, transport) })
	ctl.pumps.Go(func() { ctl.readPump(ctx, conn, ws) })
}

// Wait blocks until every pump has exited.
func (ctl *SignalWSController) Wait() {
	ctl.pumps.Wait()
}

func refuse(ws *websocket.Conn, code int, reason string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write refusal")
	}
	_ = ws.Close()
}
