package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/metrics"
)

// MessageService is the server side of message reads and writes. Every call
// is gated by the membership guard before the store is touched.
type MessageService struct {
	messages domain.MessageRepository
	guard    *MembershipGuard
	log      zerolog.Logger
}

func NewMessageService(messages domain.MessageRepository, guard *MembershipGuard, log zerolog.Logger) *MessageService {
	return &MessageService{
		messages: messages,
		guard:    guard,
		log:      log.With().Str("component", "messages").Logger(),
	}
}

// List returns the conversation history in ascending (created_at, id) order.
func (s *MessageService) List(ctx context.Context, caller domain.Caller, conversationID string) ([]*domain.Message, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if err := s.guard.Require(ctx, conversationID, caller.UserID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListForConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", domain.Deadline(err))
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

// Create validates and persists a message from the caller. The returned
// record carries the store-assigned id and timestamp and the sender profile.
func (s *MessageService) Create(ctx context.Context, caller domain.Caller, conversationID string, d domain.Draft) (*domain.Message, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if err := s.guard.Require(ctx, conversationID, caller.UserID); err != nil {
		return nil, err
	}
	d, err := d.Normalize()
	if err != nil {
		return nil, err
	}

	m := d.Message(conversationID, caller.UserID)
	m.Sender = caller.Profile.AsSender()
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", domain.Deadline(err))
	}
	metrics.MessagesWritten.WithLabelValues(string(m.Kind)).Inc()
	s.log.Debug().
		Int64("message_id", m.ID).
		Str("conversation_id", conversationID).
		Str("sender_id", caller.UserID).
		Msg("message created")
	return m, nil
}

// Get returns one message if the caller participates in its conversation.
func (s *MessageService) Get(ctx context.Context, caller domain.Caller, id int64) (*domain.Message, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if err := s.guard.Require(ctx, m.ConversationID, caller.UserID); err != nil {
		return nil, err
	}
	return m, nil
}
