package models

import "time"

// Message is an authoritative, server-issued chat message.
type Message struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"room_id"`
	AuthorID      string     `json:"author_id"`
	AuthorName    string     `json:"author_name,omitempty"`
	Content       string     `json:"content"`
	AttachmentIDs []string   `json:"attachment_ids,omitempty"`
	ReplyToID     string     `json:"reply_to_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	EditedAt      *time.Time `json:"edited_at,omitempty"`
}
