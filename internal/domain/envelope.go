package domain

import (
	"encoding/json"
	"errors"
)

// Envelope is the wire unit for every realtime message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message vocabulary.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeConnected      = "CONNECTED"
	TypeJoinChannel    = "join_channel"
	TypeChannelJoined  = "channel_joined"
	TypeUserJoined     = "user_joined"
	TypeLeaveChannel   = "leave_channel"
	TypeChannelLeft    = "channel_left"
	TypeUserLeft       = "user_left"
	TypeToggleMute     = "toggle_mute"
	TypeVoiceUserMuted = "voice_user_muted"
	TypeSignal         = "signal"
	TypeError          = "error"
)

// Signal kinds carried by a "signal" envelope.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

func ValidSignalKind(kind string) bool {
	switch kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// Websocket close codes used by the hub.
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	ClosePolicy       = 1008
	CloseInternal     = 1011
	CloseTryAgain     = 1013
	CloseSuperseded   = 4000
	CloseUnauthorized = 4401
)

// Error reasons sent in "error" envelopes. Clients match on these strings.
const (
	ReasonBadJSON               = "bad_json"
	ReasonBadPayload            = "bad_payload"
	ReasonNotMember             = "not_member"
	ReasonNotSubscribed         = "not_subscribed"
	ReasonNotVoiceChannel       = "not_voice_channel"
	ReasonMembershipUnavailable = "membership_unavailable"
	ReasonTargetOffline         = "target_offline"
	ReasonSelfSignal            = "self_signal"
	ReasonInvalidKind           = "invalid_kind"
	ReasonRateLimited           = "rate_limited"
	ReasonDeliveryFailed        = "delivery_failed"
)

var ErrEmptyType = errors.New("envelope without type")

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// DecodeEnvelope parses a raw frame. It does not look at Data.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrEmptyType
	}
	return env, nil
}

// Decode unmarshals Data into v. A missing data object decodes as {}.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// Payloads.

type PongData struct {
	ServerTime int64 `json:"serverTime"`
}

type ConnectedData struct {
	UserID       UserID `json:"userId"`
	ConnectionID ConnID `json:"connectionId"`
	ServerTime   int64  `json:"serverTime"`
}

type JoinChannelData struct {
	ChannelID ChannelID `json:"channelId"`
}

type LeaveChannelData struct {
	ChannelID ChannelID `json:"channelId,omitempty"`
}

type ChannelJoinedData struct {
	ChannelID ChannelID `json:"channelId"`
	Members   []Member  `json:"members"`
}

type ChannelLeftData struct {
	ChannelID ChannelID `json:"channelId"`
}

type PresenceData struct {
	ChannelID ChannelID `json:"channelId"`
	UserID    UserID    `json:"userId"`
}

type ToggleMuteData struct {
	ChannelID ChannelID `json:"channelId"`
	IsMuted   bool      `json:"isMuted"`
}

type VoiceUserMutedData struct {
	ChannelID ChannelID `json:"channelId"`
	UserID    UserID    `json:"userId"`
	IsMuted   bool      `json:"isMuted"`
}

// SignalData is what a client sends; Payload is relayed untouched.
type SignalData struct {
	TargetUserID UserID          `json:"targetUserId"`
	ChannelID    ChannelID       `json:"channelId"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

// RelayedSignalData is what the target receives.
type RelayedSignalData struct {
	FromUserID UserID          `json:"fromUserId"`
	ChannelID  ChannelID       `json:"channelId"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

type ErrorData struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
	Ref     string `json:"ref,omitempty"`
}
