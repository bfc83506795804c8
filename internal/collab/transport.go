package collab

import "context"

// Status is a transport connectivity change.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

// String returns the status name for logs.
func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Transport is an at-least-once, unordered message channel to the other
// participants of one board.
//
// Inbound and Status are read only by the session loop. A transport
// reports StatusConnected after every (re)connect, including the first,
// so the session can request a resync.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Inbound() <-chan []byte
	Status() <-chan Status
	Close() error
}
