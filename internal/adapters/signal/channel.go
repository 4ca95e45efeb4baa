package signal

import (
	"context"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
)

func (ctl *SignalWSController) handleJoin(ctx context.Context, conn *core.Connection, env domain.Envelope) {
	var req domain.JoinChannelData
	if !ctl.decode(conn, env, &req) {
		return
	}
	mctx, cancel := ctl.membershipCtx(ctx)
	defer cancel()

	resp, err := ctl.Orch.Join(mctx, conn, req.ChannelID)
	if err != nil {
		ctl.sendError(conn, env.Type, err)
		return
	}
	ctl.sendJSON(conn, domain.TypeChannelJoined, resp)
}

func (ctl *SignalWSController) handleLeave(_ context.Context, conn *core.Connection, env domain.Envelope) {
	var req domain.LeaveChannelData
	if !ctl.decode(conn, env, &req) {
		return
	}
	resp, err := ctl.Orch.Leave(conn, req.ChannelID)
	if err != nil {
		ctl.sendError(conn, env.Type, err)
		return
	}
	ctl.sendJSON(conn, domain.TypeChannelLeft, resp)
}

func (ctl *SignalWSController) handleToggleMute(_ context.Context, conn *core.Connection, env domain.Envelope) {
	var req domain.ToggleMuteData
	if !ctl.decode(conn, env, &req) {
		return
	}
	if err := ctl.Orch.ToggleMute(conn, req); err != nil {
		ctl.sendError(conn, env.Type, err)
	}
}
