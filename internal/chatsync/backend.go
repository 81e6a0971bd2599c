package chatsync

import (
	"context"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

// Backend is the server side a session talks to: the in-process services
// or, through internal/client, a remote server.
type Backend interface {
	// Authorize fails with domain.ErrForbidden unless the caller participates
	// in the conversation.
	Authorize(ctx context.Context, caller domain.Caller, conversationID string) error
	// History returns the conversation in ascending (created_at, id) order.
	History(ctx context.Context, caller domain.Caller, conversationID string) ([]*domain.Message, error)
	// Send persists a message and returns the authoritative record.
	Send(ctx context.Context, caller domain.Caller, conversationID string, d domain.Draft) (*domain.Message, error)
	Subscribe(ctx context.Context, caller domain.Caller, conversationID string) (domain.Subscription, error)
}

// LocalBackend runs a session against in-process services.
type LocalBackend struct {
	guard    *service.MembershipGuard
	messages *service.MessageService
	feed     domain.Feed
}

func NewLocalBackend(guard *service.MembershipGuard, messages *service.MessageService, feed domain.Feed) *LocalBackend {
	return &LocalBackend{guard: guard, messages: messages, feed: feed}
}

var _ Backend = (*LocalBackend)(nil)

func (b *LocalBackend) Authorize(ctx context.Context, caller domain.Caller, conversationID string) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	return b.guard.Require(ctx, conversationID, caller.UserID)
}

func (b *LocalBackend) History(ctx context.Context, caller domain.Caller, conversationID string) ([]*domain.Message, error) {
	return b.messages.List(ctx, caller, conversationID)
}

func (b *LocalBackend) Send(ctx context.Context, caller domain.Caller, conversationID string, d domain.Draft) (*domain.Message, error) {
	return b.messages.Create(ctx, caller, conversationID, d)
}

func (b *LocalBackend) Subscribe(ctx context.Context, caller domain.Caller, conversationID string) (domain.Subscription, error) {
	if err := b.Authorize(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	return b.feed.Subscribe(ctx, conversationID)
}
