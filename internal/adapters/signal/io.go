package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, conn *core.Connection, c *WsSignalConn) {
	defer log.Debug().Str("module", "signal").Str("conn", string(conn.ID())).Msg("writePump exit")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Stringer("uid", conn.UserID()).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				ctl.Orch.Terminate(conn)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Stringer("uid", conn.UserID()).Msg("writePump write error")
				ctl.Orch.Terminate(conn)
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, conn *core.Connection, ws *websocket.Conn) {
	uid := conn.UserID()
	defer func() {
		log.Info().Str("module", "signal").Stringer("uid", uid).Str("conn", string(conn.ID())).Msg("readPump closing")
		ctl.Orch.Disconnect(conn, domain.CloseNormal, "")
		if _, live := ctl.Orch.Registry.Lookup(uid); !live && ctl.Limiter != nil {
			ctl.Limiter.Forget(uid)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Stringer("uid", uid).Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.Closed() {
					log.Warn().Err(err).Str("module", "signal").Stringer("uid", uid).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(ctx, conn, data)
		}
	}
}

// handleFrame decodes one inbound frame and dispatches it. Nothing a client
// sends can close its own connection from here.
func (ctl *SignalWSController) handleFrame(ctx context.Context, conn *core.Connection, data []byte) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Stringer("uid", conn.UserID()).Msg("bad json")
		ctl.sendError(conn, "", &orch.Denied{Reason: domain.ReasonBadJSON, Message: err.Error()})
		return
	}

	if env.Type != domain.TypePong && ctl.Limiter != nil && !ctl.Limiter.Allow(conn.UserID()) {
		ctl.sendError(conn, env.Type, &orch.Denied{Reason: domain.ReasonRateLimited, Message: "too many messages"})
		return
	}

	h, ok := ctl.handlers[env.Type]
	if !ok {
		log.Warn().Str("module", "signal").Stringer("uid", conn.UserID()).Str("type", env.Type).Msg("unknown message type")
		return
	}
	h(ctx, conn, env)
}

func (ctl *SignalWSController) sendJSON(conn *core.Connection, typ string, v any) {
	env, err := domain.NewEnvelope(typ, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("sendJSON marshal")
		return
	}
	_ = ctl.Orch.Send(conn, env)
}

// sendError reports err to the sender. Errors without a client-facing reason
// are logged and surface as membership_unavailable.
func (ctl *SignalWSController) sendError(conn *core.Connection, ref string, err error) {
	d, ok := orch.IsDenied(err)
	if !ok {
		if errors.Is(err, core.ErrClosed) {
			return
		}
		log.Error().Err(err).Str("module", "signal").Stringer("uid", conn.UserID()).Str("ref", ref).Msg("request failed")
		d = &orch.Denied{Reason: domain.ReasonMembershipUnavailable, Message: "internal error"}
	}
	ctl.sendJSON(conn, domain.TypeError, domain.ErrorData{Reason: d.Reason, Message: d.Message, Ref: ref})
}

// decode unmarshals the envelope data or reports bad_payload.
func (ctl *SignalWSController) decode(conn *core.Connection, env domain.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		ctl.sendError(conn, env.Type, &orch.Denied{Reason: domain.ReasonBadPayload, Message: err.Error()})
		return false
	}
	return true
}

func (ctl *SignalWSController) membershipCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, ctl.opts.MembershipTimeout)
}
