package domain

import "time"

// MessageKind tags what a message carries.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage
}

// User represents an application user.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     *string   `db:"email" json:"email,omitempty"`
	AvatarURL *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Sender is the public part of a user's profile carried with each message.
type Sender struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// AsSender returns the sender summary of u, or nil for a nil user.
func (u *User) AsSender() *Sender {
	if u == nil {
		return nil
	}
	return &Sender{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

// Conversation represents a chat conversation. Only two-party conversations
// are created; PairKey is set for those and carries the uniqueness
// constraint over the unordered participant pair.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	CreatorID string    `db:"creator_id" json:"creator_id"`
	PairKey   *string   `db:"pair_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ConversationParticipant represents the membership of a user in a conversation.
type ConversationParticipant struct {
	ConversationID string    `db:"conversation_id"`
	UserID         string    `db:"user_id"`
	JoinedAt       time.Time `db:"joined_at"`
}

// Membership is one row of a membership scan: a conversation the user is in.
type Membership struct {
	ConversationID string
	IsGroup        bool
	CreatedAt      time.Time
}

// Message represents a single chat message. ID is assigned by the store and
// grows with insertion order, so it breaks CreatedAt ties.
type Message struct {
	ID             int64       `db:"id" json:"id"`
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	SenderID       string      `db:"sender_id" json:"sender_id"`
	Body           string      `db:"body" json:"body"`
	MediaURL       *string     `db:"media_url" json:"media_url,omitempty"`
	Kind           MessageKind `db:"kind" json:"kind"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	Sender         *Sender     `db:"-" json:"sender,omitempty"`
}

// Before reports whether m sorts before o in a conversation timeline.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// HasMedia reports whether the message carries a media reference.
func (m *Message) HasMedia() bool {
	return m.MediaURL != nil && *m.MediaURL != ""
}
