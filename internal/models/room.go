package models

// RoomType represents the kind of room
type RoomType string

const (
	RoomText  RoomType = "text"  // Text chat room
	RoomVoice RoomType = "voice" // Voice room
	RoomDM    RoomType = "dm"    // Direct message (categoryless)
)

// Room represents a room on a server. Rooms are supplied by the server;
// the client never originates a room id. Text and voice rooms belong to
// exactly one category, DMs have no category.
type Room struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Type         RoomType `json:"type"`
	CategoryID   string   `json:"category_id,omitempty"`
	Position     int      `json:"position"`
	Topic        string   `json:"topic,omitempty"`
	OtherMembers []User   `json:"other_members,omitempty"` // DM recipients
}

// IsDM returns true for direct-message rooms.
func (r *Room) IsDM() bool {
	return r.Type == RoomDM
}

// Category groups rooms within a server. When EnforceTypeOrder is set,
// text rooms sort before voice rooms inside the category; the flag is
// cleared (not the move rejected) when a reorder violates it.
type Category struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Position         int    `json:"position"`
	EnforceTypeOrder bool   `json:"enforce_type_order"`
}

// NotificationMode controls which room activity may alert the user.
type NotificationMode string

const (
	NotifyAll      NotificationMode = "all"
	NotifyMentions NotificationMode = "mentions"
	NotifyMute     NotificationMode = "mute"
)

// ValidNotificationMode reports whether m is one of the known modes.
func ValidNotificationMode(m NotificationMode) bool {
	switch m {
	case NotifyAll, NotifyMentions, NotifyMute:
		return true
	}
	return false
}
