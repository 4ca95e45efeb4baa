package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is one encoded envelope.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; Close and Terminate must be safe to call more than once.
type SignalConnection interface {
	// TrySend queues a frame without blocking.
	TrySend(Frame) error
	// Ping sends a transport-level ping.
	Ping() error
	// Close sends a close frame with code and drops the transport.
	Close(code int, reason string)
	// Terminate drops the transport without a close handshake.
	Terminate()
}
