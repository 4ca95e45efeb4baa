package client

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/voicehub/internal/domain"
	"github.com/pion/webrtc/v4"
)

func JoinChannel(ch domain.ChannelID) (domain.Envelope, error) {
	return domain.NewEnvelope(domain.TypeJoinChannel, domain.JoinChannelData{ChannelID: ch})
}

func LeaveChannel(ch domain.ChannelID) (domain.Envelope, error) {
	return domain.NewEnvelope(domain.TypeLeaveChannel, domain.LeaveChannelData{ChannelID: ch})
}

func ToggleMute(ch domain.ChannelID, muted bool) (domain.Envelope, error) {
	return domain.NewEnvelope(domain.TypeToggleMute, domain.ToggleMuteData{ChannelID: ch, IsMuted: muted})
}

// Description wraps an offer or answer for target.
func Description(target domain.UserID, ch domain.ChannelID, sd webrtc.SessionDescription) (domain.Envelope, error) {
	var kind string
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		kind = domain.SignalOffer
	case webrtc.SDPTypeAnswer:
		kind = domain.SignalAnswer
	default:
		return domain.Envelope{}, fmt.Errorf("unsupported sdp type %s", sd.Type)
	}
	return signal(target, ch, kind, sd)
}

func Candidate(target domain.UserID, ch domain.ChannelID, c webrtc.ICECandidateInit) (domain.Envelope, error) {
	return signal(target, ch, domain.SignalCandidate, c)
}

func signal(target domain.UserID, ch domain.ChannelID, kind string, payload any) (domain.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.NewEnvelope(domain.TypeSignal, domain.SignalData{
		TargetUserID: target,
		ChannelID:    ch,
		Kind:         kind,
		Payload:      raw,
	})
}

// ParseDescription decodes a relayed offer or answer.
func ParseDescription(sig domain.RelayedSignalData) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	if sig.Kind != domain.SignalOffer && sig.Kind != domain.SignalAnswer {
		return sd, fmt.Errorf("signal kind %q is not a description", sig.Kind)
	}
	if err := json.Unmarshal(sig.Payload, &sd); err != nil {
		return sd, fmt.Errorf("decode description: %w", err)
	}
	return sd, nil
}

// ParseCandidate decodes a relayed ICE candidate.
func ParseCandidate(sig domain.RelayedSignalData) (webrtc.ICECandidateInit, error) {
	var c webrtc.ICECandidateInit
	if sig.Kind != domain.SignalCandidate {
		return c, fmt.Errorf("signal kind %q is not a candidate", sig.Kind)
	}
	if err := json.Unmarshal(sig.Payload, &c); err != nil {
		return c, fmt.Errorf("decode candidate: %w", err)
	}
	return c, nil
}
