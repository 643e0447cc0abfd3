package client

import (
	"github.com/chitchat-app/chitchat/internal/models"
	"github.com/chitchat-app/chitchat/internal/transport"
)

// Messages posted into the application's event channel. The UI loop
// consumes them as bubbletea messages; everything below is a snapshot
// or a notification, never shared mutable state.

// SessionStatusMsg reports a connection status change for one server.
type SessionStatusMsg struct {
	ServerURL string
	Status    transport.Status
}

// ForegroundChangedMsg is posted after the active server switches. All
// room and message caches for the prior server have been discarded.
type ForegroundChangedMsg struct {
	ServerURL string
}

// ServerActivityMsg is a lightweight activity ping from a background
// session, used only for cross-server badge counts.
type ServerActivityMsg struct {
	ServerURL string
	RoomID    string
	AuthorID  string
}

// MessagesUpdatedMsg signals that a room's message list changed.
type MessagesUpdatedMsg struct {
	RoomID string
}

// RoomsUpdatedMsg signals that the room/category layout changed.
type RoomsUpdatedMsg struct{}

// AlertMsg asks the shell to play a sound and/or raise a desktop alert.
type AlertMsg struct {
	RoomID  string
	Sound   bool
	Desktop bool
	Mention bool
}

// RemoteControlRequestMsg surfaces an inbound control request.
type RemoteControlRequestMsg struct {
	Request models.RemoteControlRequest
}

// RemoteControlSessionMsg reports the current session; nil means ended.
type RemoteControlSessionMsg struct {
	Session *models.RemoteControlSession
}

// RemoteControlNoticeMsg is a one-shot user-visible explanation
// (denial, expiry).
type RemoteControlNoticeMsg struct {
	Text string
}
