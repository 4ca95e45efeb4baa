package app

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps each user to its single live connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*core.Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.UserID]*core.Connection),
	}
}

// Register stores conn as the user's live connection. A previous connection of
// the same user is closed with CloseSuperseded and returned.
func (r *Registry) Register(conn *core.Connection) *core.Connection {
	uid := conn.UserID()
	r.mu.Lock()
	old := r.conns[uid]
	r.conns[uid] = conn
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Stringer("uid", uid).Str("conn", string(conn.ID())).Msg("registered connection")
	if old == nil || old == conn {
		return nil
	}
	log.Info().Str("module", "app.registry").Stringer("uid", uid).Str("conn", string(old.ID())).Msg("superseded connection")
	old.Close(domain.CloseSuperseded, "superseded by newer connection")
	return old
}

func (r *Registry) Lookup(uid domain.UserID) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[uid]
	return c, ok
}

// Unregister removes conn only if it is still the registered connection of
// its user. Stale close handlers therefore never evict a newer connection.
func (r *Registry) Unregister(conn *core.Connection) bool {
	uid := conn.UserID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[uid]; !ok || cur != conn {
		return false
	}
	delete(r.conns, uid)
	log.Info().Str("module", "app.registry").Stringer("uid", uid).Str("conn", string(conn.ID())).Msg("unregistered connection")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Snapshot() []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []*core.Connection
}

// Broadcast sends env to every registered connection matching pred. Send
// failures are logged and never stop the loop; connections whose buffer is
// full are reported in Dropped.
func (r *Registry) Broadcast(pred func(*core.Connection) bool, env domain.Envelope) PublishResult {
	res := PublishResult{}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("type", env.Type).Msg("broadcast marshal")
		return res
	}
	for _, c := range r.Snapshot() {
		if pred != nil && !pred(c) {
			continue
		}
		if err := c.SendFrame(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Stringer("uid", c.UserID()).Str("type", env.Type).Msg("broadcast send failed")
			if errors.Is(err, core.ErrBackpressure) {
				res.Dropped = append(res.Dropped, c)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.registry").Str("type", env.Type).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
