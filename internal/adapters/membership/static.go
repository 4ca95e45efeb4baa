package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/voicehub/internal/domain"
)

type staticChannel struct {
	voice   bool
	members map[domain.UserID]struct{}
}

// Static is an in-memory membership service for development and tests.
type Static struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*staticChannel
}

func NewStatic(specs []domain.ChannelSpec) *Static {
	s := &Static{channels: make(map[domain.ChannelID]*staticChannel)}
	for _, spec := range specs {
		ch := &staticChannel{voice: spec.Voice, members: make(map[domain.UserID]struct{})}
		for _, uid := range spec.Members {
			ch.members[domain.UserID(uid)] = struct{}{}
		}
		s.channels[domain.ChannelID(spec.ID)] = ch
	}
	return s
}

func (s *Static) IsMember(_ context.Context, user domain.UserID, channel domain.ChannelID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channel]
	if !ok {
		return false, nil
	}
	_, ok = ch.members[user]
	return ok, nil
}

func (s *Static) GetMembers(_ context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channel]
	if !ok {
		return nil, nil
	}
	out := make([]domain.UserID, 0, len(ch.members))
	for uid := range ch.members {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Static) IsVoiceChannel(_ context.Context, channel domain.ChannelID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channel]
	return ok && ch.voice, nil
}

// Grant adds user to channel, creating a voice channel if needed.
func (s *Static) Grant(user domain.UserID, channel domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channel]
	if !ok {
		ch = &staticChannel{voice: true, members: make(map[domain.UserID]struct{})}
		s.channels[channel] = ch
	}
	ch.members[user] = struct{}{}
}

// Revoke removes user from channel. Takes effect on the next check.
func (s *Static) Revoke(user domain.UserID, channel domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channel]; ok {
		delete(ch.members, user)
	}
}
