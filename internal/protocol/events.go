package protocol

import (
	"time"

	"github.com/chitchat-app/chitchat/internal/models"
)

// Event names carried over the event channel. The channel delivers a
// JSON envelope per event; payload structs below define the "d" field.
const (
	// Client -> Server
	EventAuth             = "auth"
	EventRoomJoin         = "room:join"
	EventRoomLeave        = "room:leave"
	EventMessageSend      = "message:send" // ack-bearing
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventLayoutUpdate     = "layout:update"
	EventNotificationsGet = "notifications:get" // ack-bearing
	EventNotificationsSet = "notifications:set"

	// Server -> Client
	EventAuthOK     = "auth:ok"
	EventAuthError  = "auth:error"
	EventRoomList   = "room:list"
	EventDMList     = "dm:list"
	EventMessageNew = "message:new"
	// message:notify is the lightweight activity event background
	// sessions subscribe to; it never carries full message history.
	EventMessageNotify = "message:notify"
	EventVoiceState    = "voice:state"

	// Remote control, both directions
	EventRemoteControlRequest        = "remote-control:request"
	EventRemoteControlRespond        = "remote-control:respond"
	EventRemoteControlRevoke         = "remote-control:revoke"
	EventRemoteControlInput          = "remote-control:input"
	EventRemoteControlSessionStarted = "remote-control:session-started"
	EventRemoteControlSessionEnded   = "remote-control:session-ended"
)

// AuthPayload authenticates a freshly connected channel.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthOKPayload confirms authentication and identifies the local user.
type AuthOKPayload struct {
	SessionID string      `json:"session_id,omitempty"`
	User      models.User `json:"user"`
}

// AuthErrorPayload reports why authentication was refused.
type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

// RoomRefPayload names a room for join/leave/typing events.
type RoomRefPayload struct {
	RoomID string `json:"room_id"`
}

// SendMessagePayload is emitted when the user sends a message. Nonce is
// a client-generated correlation id matched against the ack or the
// broadcast echo, whichever arrives first.
type SendMessagePayload struct {
	RoomID        string   `json:"room_id"`
	Content       string   `json:"content"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	ReplyToID     string   `json:"reply_to_id,omitempty"`
	Nonce         string   `json:"nonce"`
}

// SendMessageAck is the ack payload for message:send.
type SendMessageAck struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Nonce   string          `json:"nonce"`
	Message *models.Message `json:"message,omitempty"`
}

// MessageNewPayload is broadcast for every new message in a joined room.
// Nonce is echoed back for the author's own optimistic reconciliation.
type MessageNewPayload struct {
	models.Message
	Nonce string `json:"nonce,omitempty"`
}

// MessageNotifyPayload is the lightweight activity event delivered to
// every session, including background ones.
type MessageNotifyPayload struct {
	RoomID     string    `json:"room_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomListPayload replays the authoritative room layout. The server
// resends it after every reconnect.
type RoomListPayload struct {
	Categories []models.Category `json:"categories"`
	Rooms      []models.Room     `json:"rooms"`
}

// DMListPayload replays the authoritative DM list.
type DMListPayload struct {
	Rooms []models.Room `json:"rooms"`
}

// LayoutUpdatePayload carries a full recomputed ordering after a drag.
type LayoutUpdatePayload struct {
	Categories []models.Category `json:"categories"`
	Rooms      []models.Room     `json:"rooms"`
}

// NotificationModePayload sets or reports one room's notification mode.
type NotificationModePayload struct {
	RoomID string                  `json:"room_id"`
	Mode   models.NotificationMode `json:"mode"`
}

// NotificationModesAck answers notifications:get with all stored modes.
type NotificationModesAck struct {
	Modes map[string]models.NotificationMode `json:"modes"`
}

// VoiceStatePayload reports a member joining or leaving a voice room.
type VoiceStatePayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Joined bool   `json:"joined"`
}

// RemoteControlRequestPayload asks a host for control of their screen.
// RequesterUserID is filled in by the server on the inbound leg.
type RemoteControlRequestPayload struct {
	RequestID       string    `json:"request_id"`
	RoomID          string    `json:"room_id"`
	HostUserID      string    `json:"host_user_id"`
	RequesterUserID string    `json:"requester_user_id,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
}

// RemoteControlRespondPayload approves or denies a pending request.
type RemoteControlRespondPayload struct {
	RequestID string `json:"request_id"`
	Approve   bool   `json:"approve"`
	Reason    string `json:"reason,omitempty"`
}

// RemoteControlRevokePayload ends a session or cancels a request.
type RemoteControlRevokePayload struct {
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RemoteControlSessionEndedPayload signals session teardown.
type RemoteControlSessionEndedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"` // "revoked", "expired", "ended"
}

// RemoteControlInputType enumerates relayed input event kinds.
type RemoteControlInputType string

const (
	InputPointerMove RemoteControlInputType = "pointer_move"
	InputPointerDown RemoteControlInputType = "pointer_down"
	InputPointerUp   RemoteControlInputType = "pointer_up"
	InputWheel       RemoteControlInputType = "wheel"
	InputKeyDown     RemoteControlInputType = "key_down"
	InputKeyUp       RemoteControlInputType = "key_up"
)

// RemoteControlInputPayload relays one input event controller->host.
// Pointer coordinates are normalized to [0,1] against the host screen.
type RemoteControlInputPayload struct {
	SessionID string                 `json:"session_id"`
	Token     string                 `json:"token"`
	Type      RemoteControlInputType `json:"type"`
	XNorm     float64                `json:"xNorm,omitempty"`
	YNorm     float64                `json:"yNorm,omitempty"`
	Button    string                 `json:"button,omitempty"` // "left", "right", "middle"
	DeltaY    float64                `json:"deltaY,omitempty"`
	Key       string                 `json:"key,omitempty"`
}
