package core

import (
	"context"

	"github.com/dkeye/voicehub/internal/domain"
)

// MembershipService answers channel access questions. It is backed by the
// relational store owned by the CRUD side of the platform.
type MembershipService interface {
	IsMember(ctx context.Context, user domain.UserID, channel domain.ChannelID) (bool, error)
	GetMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error)
	IsVoiceChannel(ctx context.Context, channel domain.ChannelID) (bool, error)
}
