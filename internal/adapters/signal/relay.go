package signal

import (
	"context"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
)

func (ctl *SignalWSController) handleRelay(ctx context.Context, conn *core.Connection, env domain.Envelope) {
	var req domain.SignalData
	if !ctl.decode(conn, env, &req) {
		return
	}
	mctx, cancel := ctl.membershipCtx(ctx)
	defer cancel()

	if err := ctl.Orch.Relay(mctx, conn, req); err != nil {
		ctl.sendError(conn, env.Type, err)
	}
}
