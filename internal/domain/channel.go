package domain

type ChannelID int64

// ConnID identifies one websocket connection; a user keeps the same UserID
// across reconnects but gets a fresh ConnID every time.
type ConnID string

// ChannelSpec is one statically configured channel.
type ChannelSpec struct {
	ID      int64   `mapstructure:"id"`
	Voice   bool    `mapstructure:"voice"`
	Members []int64 `mapstructure:"members"`
}
