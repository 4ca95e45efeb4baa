package app

import (
	"sort"
	"sync"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	conn  *core.Connection
	muted bool
}

// Channels is the in-memory voice presence table. It never closes
// transport resources.
type Channels struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]map[domain.UserID]*subscriber
	byConn   map[domain.ConnID]domain.ChannelID
}

func NewChannels() *Channels {
	return &Channels{
		channels: make(map[domain.ChannelID]map[domain.UserID]*subscriber),
		byConn:   make(map[domain.ConnID]domain.ChannelID),
	}
}

// JoinResult describes what a Join changed.
type JoinResult struct {
	// Joined is false when conn was already subscribed to the channel.
	Joined bool
	// Left is set when conn moved out of Previous to join.
	Left     bool
	Previous domain.ChannelID
	// Replaced is an older connection of the same user that was still
	// listed in the channel.
	Replaced *core.Connection
}

// Join subscribes conn to ch, leaving its previous channel first.
// It refuses connections that are already closed so a concurrent teardown
// cannot leave a ghost subscriber behind.
func (c *Channels) Join(conn *core.Connection, ch domain.ChannelID) (JoinResult, error) {
	uid := conn.UserID()
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn.Closed() {
		return JoinResult{}, core.ErrClosed
	}

	res := JoinResult{}
	if cur, ok := c.byConn[conn.ID()]; ok {
		if cur == ch {
			return res, nil
		}
		c.removeLocked(cur, conn)
		delete(c.byConn, conn.ID())
		res.Left = true
		res.Previous = cur
	}

	members, ok := c.channels[ch]
	if !ok {
		members = make(map[domain.UserID]*subscriber)
		c.channels[ch] = members
	}
	if old, ok := members[uid]; ok && old.conn != conn {
		delete(c.byConn, old.conn.ID())
		res.Replaced = old.conn
	}
	members[uid] = &subscriber{conn: conn}
	c.byConn[conn.ID()] = ch
	res.Joined = true

	log.Info().Str("module", "app.channels").Stringer("uid", uid).Int64("channel", int64(ch)).Msg("subscribed")
	return res, nil
}

// Leave removes conn from whatever channel it is subscribed to.
func (c *Channels) Leave(conn *core.Connection) (domain.ChannelID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.byConn[conn.ID()]
	if !ok {
		return 0, false
	}
	delete(c.byConn, conn.ID())
	c.removeLocked(ch, conn)
	log.Info().Str("module", "app.channels").Stringer("uid", conn.UserID()).Int64("channel", int64(ch)).Msg("unsubscribed")
	return ch, true
}

func (c *Channels) removeLocked(ch domain.ChannelID, conn *core.Connection) {
	members, ok := c.channels[ch]
	if !ok {
		return
	}
	if s, ok := members[conn.UserID()]; ok && s.conn == conn {
		delete(members, conn.UserID())
	}
	if len(members) == 0 {
		delete(c.channels, ch)
	}
}

func (c *Channels) ChannelOf(conn *core.Connection) (domain.ChannelID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.byConn[conn.ID()]
	return ch, ok
}

func (c *Channels) IsSubscribed(conn *core.Connection, ch domain.ChannelID) bool {
	cur, ok := c.ChannelOf(conn)
	return ok && cur == ch
}

// SetMuted updates the mute flag of conn in ch.
func (c *Channels) SetMuted(conn *core.Connection, ch domain.ChannelID, muted bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.byConn[conn.ID()]; !ok || cur != ch {
		return false
	}
	s, ok := c.channels[ch][conn.UserID()]
	if !ok || s.conn != conn {
		return false
	}
	s.muted = muted
	return true
}

// Members is a read-only snapshot sorted by user id.
func (c *Channels) Members(ch domain.ChannelID) []domain.Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.channels[ch]
	out := make([]domain.Member, 0, len(members))
	for uid, s := range members {
		out = append(out, domain.Member{UserID: uid, IsMuted: s.muted})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

type ChannelInfo struct {
	ID          domain.ChannelID `json:"id"`
	MemberCount int              `json:"member_count"`
}

func (c *Channels) List() []ChannelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(c.channels))
	for id, members := range c.channels {
		out = append(out, ChannelInfo{ID: id, MemberCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
