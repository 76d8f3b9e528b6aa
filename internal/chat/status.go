package chat

import "errors"

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusConnecting     Status = "connecting"
	StatusConnected      Status = "connected"
	StatusInRoom         Status = "in_room"
	StatusDisconnected   Status = "disconnected"
	StatusAuthFailed     Status = "auth_failed"
	StatusStopped        Status = "stopped"
)

func (s Status) String() string { return string(s) }

// Live reports whether a socket is open in this state.
func (s Status) Live() bool {
	return s == StatusConnected || s == StatusInRoom
}

var (
	// ErrAuthFailure covers bad credentials, a missing token and a rejected
	// login frame. The reconnect loop retries after backoff.
	ErrAuthFailure = errors.New("auth failure")
	// ErrTransportFailure covers dial, read and write errors on the socket.
	ErrTransportFailure = errors.New("transport failure")
	ErrNotConnected     = errors.New("not connected")
)
