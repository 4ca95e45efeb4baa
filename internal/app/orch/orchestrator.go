package orch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

var errNoMembership = errors.New("membership service not configured")

// Denied is an authorization or validation failure reported to the sender
// as an "error" envelope. The connection stays open.
type Denied struct {
	Reason  string
	Message string
}

func (d *Denied) Error() string {
	if d.Message == "" {
		return d.Reason
	}
	return d.Reason + ": " + d.Message
}

func deny(reason, format string, args ...any) error {
	return &Denied{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsDenied reports whether err carries a client-facing reason.
func IsDenied(err error) (*Denied, bool) {
	var d *Denied
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

type Orchestrator struct {
	Registry   *app.Registry
	Channels   *app.Channels
	Membership core.MembershipService
	Policy     app.Policy
	Clock      clock.Clock

	// presenceMu orders channel mutations with their presence broadcasts.
	presenceMu sync.Mutex
}

func (o *Orchestrator) now() clock.Clock {
	if o.Clock == nil {
		return clock.New()
	}
	return o.Clock
}

// Connect registers conn, displacing any previous connection of the same
// user, and acknowledges with CONNECTED.
func (o *Orchestrator) Connect(conn *core.Connection) {
	if old := o.Registry.Register(conn); old != nil {
		// Teardown is once per connection; the old pumps find it done.
		o.teardown(old)
	}
	env, err := domain.NewEnvelope(domain.TypeConnected, domain.ConnectedData{
		UserID:       conn.UserID(),
		ConnectionID: conn.ID(),
		ServerTime:   o.now().Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode CONNECTED")
		return
	}
	o.send(conn, env)
}

// Disconnect closes conn with code and runs its teardown once.
func (o *Orchestrator) Disconnect(conn *core.Connection, code int, reason string) {
	conn.Close(code, reason)
	o.teardown(conn)
}

// Terminate drops conn without a close handshake and runs its teardown once.
func (o *Orchestrator) Terminate(conn *core.Connection) {
	conn.Terminate()
	o.teardown(conn)
}

// teardown is the single cleanup path for every way a connection ends.
func (o *Orchestrator) teardown(conn *core.Connection) {
	conn.Teardown(func() {
		o.Registry.Unregister(conn)
		o.presenceMu.Lock()
		var slow []*core.Connection
		if ch, ok := o.Channels.Leave(conn); ok {
			slow = o.publishPresence(domain.TypeUserLeft, ch, conn.UserID(), nil)
		}
		o.presenceMu.Unlock()
		o.evict(slow)
		log.Info().Str("module", "orch").Stringer("uid", conn.UserID()).Str("conn", string(conn.ID())).Msg("connection torn down")
	})
}

// Shutdown closes every registered connection.
func (o *Orchestrator) Shutdown() {
	conns := o.Registry.Snapshot()
	for _, c := range conns {
		o.Disconnect(c, domain.CloseGoingAway, "server shutdown")
	}
	log.Info().Str("module", "orch").Int("closed", len(conns)).Msg("all connections closed")
}

type Stats struct {
	Connections int               `json:"connections"`
	Channels    []app.ChannelInfo `json:"channels"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Connections: o.Registry.Count(),
		Channels:    o.Channels.List(),
	}
}

// Send queues env on conn under the backpressure policy.
func (o *Orchestrator) Send(conn *core.Connection, env domain.Envelope) error {
	return o.send(conn, env)
}

// send queues env on conn and applies the backpressure policy on a full buffer.
func (o *Orchestrator) send(conn *core.Connection, env domain.Envelope) error {
	err := conn.Send(env)
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("module", "orch").Stringer("uid", conn.UserID()).Str("type", env.Type).Msg("send failed")
	if errors.Is(err, core.ErrBackpressure) {
		o.onBackPressure(conn)
	}
	return err
}

// broadcastChannel sends env to the current subscribers of ch except skip.
func (o *Orchestrator) broadcastChannel(ch domain.ChannelID, env domain.Envelope, skip *core.Connection) {
	o.evict(o.queueChannel(ch, env, skip))
}

// queueChannel queues env for the subscribers of ch and returns the ones
// whose buffer was full. It never applies the policy.
func (o *Orchestrator) queueChannel(ch domain.ChannelID, env domain.Envelope, skip *core.Connection) []*core.Connection {
	res := o.Registry.Broadcast(func(c *core.Connection) bool {
		return c != skip && o.Channels.IsSubscribed(c, ch)
	}, env)
	return res.Dropped
}

// publishPresence queues a presence envelope for ch. Callers hold presenceMu
// and pass the returned connections to evict once it is released.
func (o *Orchestrator) publishPresence(typ string, ch domain.ChannelID, uid domain.UserID, skip *core.Connection) []*core.Connection {
	env, err := domain.NewEnvelope(typ, domain.PresenceData{ChannelID: ch, UserID: uid})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode presence")
		return nil
	}
	return o.queueChannel(ch, env, skip)
}

func (o *Orchestrator) evict(slow []*core.Connection) {
	for _, c := range slow {
		o.onBackPressure(c)
	}
}

func (o *Orchestrator) onBackPressure(conn *core.Connection) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(conn) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Stringer("uid", conn.UserID()).Msg("kicking slow consumer")
		o.Disconnect(conn, domain.ClosePolicy, "slow consumer")
	case app.DropFrame, app.NoAction:
	}
}
