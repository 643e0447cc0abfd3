package models

import "time"

// RemoteControlRequest is a pending ask from a controller to drive the
// host's shared screen. Ephemeral; at most one is tracked per client.
type RemoteControlRequest struct {
	RequestID       string    `json:"request_id"`
	RoomID          string    `json:"room_id"`
	RequesterUserID string    `json:"requester_user_id"`
	HostUserID      string    `json:"host_user_id,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the request is past its deadline.
func (r *RemoteControlRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// RemoteControlSession is a granted, time-bounded control session. Input
// events are applied only when both the session id and the token match.
type RemoteControlSession struct {
	SessionID        string    `json:"session_id"`
	RoomID           string    `json:"room_id"`
	ControllerUserID string    `json:"controller_user_id"`
	HostUserID       string    `json:"host_user_id"`
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
}
