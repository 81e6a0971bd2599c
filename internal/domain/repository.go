package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
// Lookups return ErrNotFound when no row matches.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	FillProfileDefaults(ctx context.Context, id, avatarURL, status string) error
}

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// CreateDirect inserts the conversation and both participant rows in one
	// transaction. A pair that already has a conversation yields ErrConflict.
	CreateDirect(ctx context.Context, c *Conversation, a, b string) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	FindDirect(ctx context.Context, a, b string) (*Conversation, error)
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)
	// DeleteOrphans removes two-party conversations with fewer than two
	// participants and no messages, created before the cutoff.
	DeleteOrphans(ctx context.Context, before time.Time) (int64, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create assigns ID and CreatedAt on success.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ListForConversation returns the history ordered by (created_at, id).
	ListForConversation(ctx context.Context, conversationID string) ([]*Message, error)
	Latest(ctx context.Context, conversationID string) (*Message, error)
	ListMediaBySender(ctx context.Context, senderID string, limit int) ([]string, error)
}

// ParticipantRepository defines operations around conversation participants.
type ParticipantRepository interface {
	ListParticipants(ctx context.Context, conversationID string) ([]*User, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Subscription is a live attachment to a conversation's change feed.
// Events is closed when the subscription ends; Err then reports why
// (nil after Close).
type Subscription interface {
	Events() <-chan *Message
	Err() error
	Close() error
}

// Feed delivers newly inserted messages of one conversation.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
}

// Publisher pushes an inserted message into a feed.
type Publisher interface {
	Publish(ctx context.Context, m *Message) error
}
