package feed

import (
	"context"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
)

// NotifyingMessages publishes every message it persists. The write has
// already committed when publishing fails, so the error is not returned;
// instead the conversation's subscribers are reset when the publisher
// supports it, and they refetch.
type NotifyingMessages struct {
	domain.MessageRepository
	pub domain.Publisher
	log zerolog.Logger
}

func NewNotifyingMessages(repo domain.MessageRepository, pub domain.Publisher, log zerolog.Logger) *NotifyingMessages {
	return &NotifyingMessages{
		MessageRepository: repo,
		pub:               pub,
		log:               log.With().Str("component", "feed").Logger(),
	}
}

var _ domain.MessageRepository = (*NotifyingMessages)(nil)

type resyncer interface {
	Resync(conversationID string)
}

var (
	_ resyncer = (*Broker)(nil)
	_ resyncer = (*RedisRelay)(nil)
)

func (n *NotifyingMessages) Create(ctx context.Context, m *domain.Message) error {
	if err := n.MessageRepository.Create(ctx, m); err != nil {
		return err
	}
	if err := n.pub.Publish(ctx, m); err != nil {
		n.log.Warn().Err(err).
			Int64("message_id", m.ID).
			Str("conversation_id", m.ConversationID).
			Msg("publish message, resetting subscribers")
		if r, ok := n.pub.(resyncer); ok {
			r.Resync(m.ConversationID)
		}
	}
	return nil
}
