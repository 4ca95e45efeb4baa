package app

import "github.com/dkeye/voicehub/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(conn *core.Connection) BackpressureAction
}

// SimplePolicy kicks slow consumers; a full buffer means the peer stopped
// reading.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(conn *core.Connection) BackpressureAction {
	return KickMember
}

// DropPolicy only drops the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(conn *core.Connection) BackpressureAction {
	return DropFrame
}
