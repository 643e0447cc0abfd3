package transport

import "encoding/json"

// Status represents the state of an event channel
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns a human-readable string representation of the status
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Handler receives the payload of one inbound event.
type Handler func(data json.RawMessage)

// AckFunc receives the server's acknowledgement for an ack-bearing emit.
// err is non-nil when the ack timed out or the channel dropped.
type AckFunc func(data json.RawMessage, err error)

// Subscription is the handle returned by On and OnStatus. Releasing it
// is guaranteed to pair with the subscribe.
type Subscription interface {
	Unsubscribe()
}

// Conn is a bidirectional event channel to one server. Reconnection
// backoff is owned by the implementation; callers observe it only
// through Status.
type Conn interface {
	Connect() error
	Close()
	Status() Status
	Emit(event string, payload any) error
	EmitWithAck(event string, payload any, ack AckFunc) error
	On(event string, h Handler) Subscription
	OnStatus(fn func(Status)) Subscription
}

// Dialer opens a Conn for a server URL. The pool is handed a Dialer so
// tests can substitute an in-memory channel.
type Dialer func(serverURL string) Conn
