package realtime

import "strconv"

// Status is the connection state machine position.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// State is the observable connection state.
//
// Attempt is the reconnect attempt number: n for Reconnecting(n) and for the
// Connecting state that follows it, 0 for the first dial after Connect, and
// the last attempt made when Failed.
type State struct {
	Status  Status
	Attempt int
}

// Connected reports whether the channel is open.
func (s State) Connected() bool { return s.Status == StatusConnected }

func (s State) String() string {
	if s.Status == StatusReconnecting {
		return "reconnecting(" + strconv.Itoa(s.Attempt) + ")"
	}
	return s.Status.String()
}
