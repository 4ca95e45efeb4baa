package signal

import (
	"context"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
)

func (ctl *SignalWSController) handlePing(_ context.Context, conn *core.Connection, _ domain.Envelope) {
	conn.MarkAlive(ctl.Clock.Now())
	ctl.sendJSON(conn, domain.TypePong, domain.PongData{ServerTime: ctl.Clock.Now().UnixMilli()})
}

// handlePong accepts application-level pongs from clients that cannot answer
// transport pings.
func (ctl *SignalWSController) handlePong(_ context.Context, conn *core.Connection, _ domain.Envelope) {
	conn.MarkAlive(ctl.Clock.Now())
}
