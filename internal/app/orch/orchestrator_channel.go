package orch

import (
	"context"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join subscribes conn to ch after a membership check and tells the other
// subscribers. Joining the channel conn is already in only re-sends the
// member list.
func (o *Orchestrator) Join(ctx context.Context, conn *core.Connection, ch domain.ChannelID) (domain.ChannelJoinedData, error) {
	if ch <= 0 {
		return domain.ChannelJoinedData{}, deny(domain.ReasonBadPayload, "channelId is required")
	}
	if o.Membership == nil {
		return domain.ChannelJoinedData{}, errNoMembership
	}
	ok, err := o.Membership.IsMember(ctx, conn.UserID(), ch)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Stringer("uid", conn.UserID()).Int64("channel", int64(ch)).Msg("membership check")
		return domain.ChannelJoinedData{}, deny(domain.ReasonMembershipUnavailable, "membership check failed")
	}
	if !ok {
		return domain.ChannelJoinedData{}, deny(domain.ReasonNotMember, "not a member of channel %d", ch)
	}

	o.presenceMu.Lock()
	res, err := o.Channels.Join(conn, ch)
	if err != nil {
		o.presenceMu.Unlock()
		return domain.ChannelJoinedData{}, err
	}
	var slow []*core.Connection
	if res.Left {
		slow = append(slow, o.publishPresence(domain.TypeUserLeft, res.Previous, conn.UserID(), conn)...)
	}
	if res.Replaced != nil {
		slow = append(slow, o.publishPresence(domain.TypeUserLeft, ch, conn.UserID(), conn)...)
	}
	if res.Joined {
		slow = append(slow, o.publishPresence(domain.TypeUserJoined, ch, conn.UserID(), conn)...)
	}
	members := o.Channels.Members(ch)
	o.presenceMu.Unlock()
	o.evict(slow)

	log.Info().Str("module", "orch").Stringer("uid", conn.UserID()).Int64("channel", int64(ch)).Bool("joined", res.Joined).Msg("join")
	return domain.ChannelJoinedData{ChannelID: ch, Members: members}, nil
}

// Leave unsubscribes conn. If ch is non-zero it must be the channel conn is in.
func (o *Orchestrator) Leave(conn *core.Connection, ch domain.ChannelID) (domain.ChannelLeftData, error) {
	cur, ok := o.Channels.ChannelOf(conn)
	if !ok || (ch != 0 && ch != cur) {
		return domain.ChannelLeftData{}, deny(domain.ReasonNotSubscribed, "not subscribed to channel %d", ch)
	}
	o.presenceMu.Lock()
	left, ok := o.Channels.Leave(conn)
	if !ok {
		o.presenceMu.Unlock()
		return domain.ChannelLeftData{}, deny(domain.ReasonNotSubscribed, "not subscribed")
	}
	slow := o.publishPresence(domain.TypeUserLeft, left, conn.UserID(), conn)
	o.presenceMu.Unlock()
	o.evict(slow)
	log.Info().Str("module", "orch").Stringer("uid", conn.UserID()).Int64("channel", int64(left)).Msg("leave")
	return domain.ChannelLeftData{ChannelID: left}, nil
}

// ToggleMute records the mute flag and tells every subscriber, the sender
// included.
func (o *Orchestrator) ToggleMute(conn *core.Connection, req domain.ToggleMuteData) error {
	if !o.Channels.SetMuted(conn, req.ChannelID, req.IsMuted) {
		return deny(domain.ReasonNotSubscribed, "not subscribed to channel %d", req.ChannelID)
	}
	env, err := domain.NewEnvelope(domain.TypeVoiceUserMuted, domain.VoiceUserMutedData{
		ChannelID: req.ChannelID,
		UserID:    conn.UserID(),
		IsMuted:   req.IsMuted,
	})
	if err != nil {
		return err
	}
	o.broadcastChannel(req.ChannelID, env, nil)
	return nil
}

// ChannelPresence lists the channel's members next to who is in voice now.
type ChannelPresence struct {
	ChannelID domain.ChannelID `json:"channelId"`
	Members   []domain.UserID  `json:"members"`
	Online    []domain.Member  `json:"online"`
}

func (o *Orchestrator) Presence(ctx context.Context, ch domain.ChannelID) (ChannelPresence, error) {
	if o.Membership == nil {
		return ChannelPresence{}, errNoMembership
	}
	members, err := o.Membership.GetMembers(ctx, ch)
	if err != nil {
		return ChannelPresence{}, err
	}
	if members == nil {
		members = []domain.UserID{}
	}
	return ChannelPresence{
		ChannelID: ch,
		Members:   members,
		Online:    o.Channels.Members(ch),
	}, nil
}
