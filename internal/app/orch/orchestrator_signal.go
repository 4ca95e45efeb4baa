package orch

import (
	"context"
	"errors"

	"github.com/dkeye/voicehub/internal/core"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards one offer/answer/candidate to the target user. Every call is
// authorized on its own, so a revoked membership takes effect on the next
// message. The payload is never inspected.
func (o *Orchestrator) Relay(ctx context.Context, from *core.Connection, sig domain.SignalData) error {
	if !domain.ValidSignalKind(sig.Kind) {
		return deny(domain.ReasonInvalidKind, "unknown signal kind %q", sig.Kind)
	}
	if sig.TargetUserID <= 0 || sig.ChannelID <= 0 || len(sig.Payload) == 0 {
		return deny(domain.ReasonBadPayload, "targetUserId, channelId and payload are required")
	}
	if sig.TargetUserID == from.UserID() {
		return deny(domain.ReasonSelfSignal, "cannot signal yourself")
	}
	if err := o.authorizeSignal(ctx, from.UserID(), sig.TargetUserID, sig.ChannelID); err != nil {
		return err
	}

	target, ok := o.Registry.Lookup(sig.TargetUserID)
	if !ok {
		return deny(domain.ReasonTargetOffline, "user %d is not connected", sig.TargetUserID)
	}
	env, err := domain.NewEnvelope(domain.TypeSignal, domain.RelayedSignalData{
		FromUserID: from.UserID(),
		ChannelID:  sig.ChannelID,
		Kind:       sig.Kind,
		Payload:    sig.Payload,
	})
	if err != nil {
		return err
	}
	if err := o.send(target, env); err != nil {
		if errors.Is(err, core.ErrClosed) {
			return deny(domain.ReasonTargetOffline, "user %d is not connected", sig.TargetUserID)
		}
		return deny(domain.ReasonDeliveryFailed, "could not deliver to user %d", sig.TargetUserID)
	}
	log.Debug().Str("module", "orch").Stringer("from", from.UserID()).Stringer("to", sig.TargetUserID).Str("kind", sig.Kind).Msg("signal relayed")
	return nil
}

func (o *Orchestrator) authorizeSignal(ctx context.Context, from, to domain.UserID, ch domain.ChannelID) error {
	if o.Membership == nil {
		return errNoMembership
	}
	voice, err := o.Membership.IsVoiceChannel(ctx, ch)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("channel", int64(ch)).Msg("voice channel check")
		return deny(domain.ReasonMembershipUnavailable, "membership check failed")
	}
	if !voice {
		return deny(domain.ReasonNotVoiceChannel, "channel %d is not a voice channel", ch)
	}
	for _, uid := range []domain.UserID{from, to} {
		ok, err := o.Membership.IsMember(ctx, uid, ch)
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Stringer("uid", uid).Int64("channel", int64(ch)).Msg("membership check")
			return deny(domain.ReasonMembershipUnavailable, "membership check failed")
		}
		if !ok {
			return deny(domain.ReasonNotMember, "user %d is not a member of channel %d", uid, ch)
		}
	}
	return nil
}
