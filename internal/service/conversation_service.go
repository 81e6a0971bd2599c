package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pairchat/internal/domain"
	"pairchat/internal/metrics"
)

// emptyPreview is shown in the inbox for a conversation without messages.
const emptyPreview = "No messages yet"

type ConversationService struct {
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
	guard         *MembershipGuard
	log           zerolog.Logger

	maxAttempts   int
	retryWait     time.Duration
	locateTimeout time.Duration
	inflight      singleflight.Group
}

func NewConversationService(
	conversations domain.ConversationRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	guard *MembershipGuard,
	maxAttempts int,
	log zerolog.Logger,
) *ConversationService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ConversationService{
		conversations: conversations,
		participants:  participants,
		messages:      messages,
		guard:         guard,
		log:           log.With().Str("component", "locator").Logger(),
		maxAttempts:   maxAttempts,
		retryWait:     50 * time.Millisecond,
		locateTimeout: 30 * time.Second,
	}
}

// Located is the outcome of FindOrCreateDirect.
type Located struct {
	Conversation *domain.Conversation
	Created      bool
}

// FindOrCreateDirect returns the two-party conversation between a and b,
// creating it with both participants if none exists. Losing a creation race
// to another writer is not an error: the winner's conversation is returned.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, a, b string) (*Located, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("participant ids required: %w", domain.ErrInvalidInput)
	}
	if a == b {
		return nil, domain.ErrSelfReference
	}

	// The lookup is shared by every caller asking for the same pair, so it
	// runs detached from any one of them. Each caller waits on its own ctx.
	ch := s.inflight.DoChan(domain.PairKey(a, b), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.locateTimeout)
		defer cancel()
		return s.locateWithRetry(lctx, a, b)
	})
	select {
	case <-ctx.Done():
		return nil, domain.Deadline(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Located), nil
	}
}

func (s *ConversationService) locateWithRetry(ctx context.Context, a, b string) (*Located, error) {
	var res *Located
	op := func() error {
		var err error
		res, err = s.locate(ctx, a, b)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryWait
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		metrics.LocatorRetries.Inc()
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("locate conversation")
	})
	switch {
	case err == nil:
		return res, nil
	case domain.IsTerminal(err):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout):
		return nil, fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	default:
		return nil, fmt.Errorf("%w: %w", domain.ErrCreationFailed, err)
	}
}

func (s *ConversationService) locate(ctx context.Context, a, b string) (*Located, error) {
	existing, err := s.findShared(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.ConversationsLocated.WithLabelValues("existing").Inc()
		return &Located{Conversation: existing}, nil
	}

	conv := &domain.Conversation{CreatorID: a}
	err = s.conversations.CreateDirect(ctx, conv, a, b)
	if err == nil {
		metrics.ConversationsLocated.WithLabelValues("created").Inc()
		s.log.Info().Str("conversation_id", conv.ID).Msg("created conversation")
		return &Located{Conversation: conv, Created: true}, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	winner, err := s.conversations.FindDirect(ctx, a, b)
	if errors.Is(err, domain.ErrNotFound) {
		// The conflicting row is not visible yet; retry the whole lookup.
		return nil, fmt.Errorf("re-read after conflict: %w", domain.ErrTransientStore)
	}
	if err != nil {
		return nil, fmt.Errorf("re-read after conflict: %w", err)
	}
	metrics.ConversationsLocated.WithLabelValues("race_lost").Inc()
	return &Located{Conversation: winner}, nil
}

// findShared intersects the membership scans of a and b. Under the pair
// uniqueness constraint at most one two-party conversation matches; rows
// written before the constraint existed can produce more, in which case the
// oldest wins.
func (s *ConversationService) findShared(ctx context.Context, a, b string) (*domain.Conversation, error) {
	var ma, mb []domain.Membership
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ma, err = s.conversations.ListMemberships(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		mb, err = s.conversations.ListMemberships(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("membership scan: %w", domain.Deadline(err))
	}

	shared := intersectDirect(ma, mb)
	if len(shared) == 0 {
		return nil, nil
	}
	if len(shared) > 1 {
		s.log.Warn().
			Int("count", len(shared)).
			Str("user_a", a).
			Str("user_b", b).
			Msg("multiple two-party conversations for one pair, using the oldest")
	}
	return s.conversations.GetByID(ctx, shared[0].ConversationID)
}

// intersectDirect returns the two-party conversations present in both scans,
// oldest first.
func intersectDirect(a, b []domain.Membership) []domain.Membership {
	inA := make(map[string]struct{}, len(a))
	for _, m := range a {
		if !m.IsGroup {
			inA[m.ConversationID] = struct{}{}
		}
	}
	var res []domain.Membership
	for _, m := range b {
		if m.IsGroup {
			continue
		}
		if _, ok := inA[m.ConversationID]; ok {
			res = append(res, m)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ConversationID < res[j].ConversationID
	})
	return res
}

// InboxEntry is one row of the caller's conversation list.
type InboxEntry struct {
	ConversationID string          `json:"conversation_id"`
	Peer           *domain.User    `json:"peer"`
	LastMessage    *domain.Message `json:"last_message,omitempty"`
	Preview        string          `json:"preview"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Inbox lists the two-party conversations of userID with the other
// participant and the latest message, most recent activity first.
func (s *ConversationService) Inbox(ctx context.Context, userID string) ([]InboxEntry, error) {
	memberships, err := s.conversations.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	entries := make([]InboxEntry, 0, len(memberships))
	for _, m := range memberships {
		if m.IsGroup {
			continue
		}
		peer, err := s.peerOf(ctx, m.ConversationID, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entry := InboxEntry{
			ConversationID: m.ConversationID,
			Peer:           peer,
			Preview:        emptyPreview,
			UpdatedAt:      m.CreatedAt,
		}
		last, err := s.messages.Latest(ctx, m.ConversationID)
		switch {
		case err == nil:
			entry.LastMessage = last
			entry.Preview = preview(last)
			entry.UpdatedAt = last.CreatedAt
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("latest message: %w", err)
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries, nil
}

func preview(m *domain.Message) string {
	if m.Body != "" {
		return m.Body
	}
	if m.Kind == domain.KindImage {
		return "Image"
	}
	return emptyPreview
}

// Peer returns the other participant of a conversation the caller is in.
func (s *ConversationService) Peer(ctx context.Context, conversationID, userID string) (*domain.User, error) {
	if err := s.guard.Require(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.peerOf(ctx, conversationID, userID)
}

func (s *ConversationService) peerOf(ctx context.Context, conversationID, userID string) (*domain.User, error) {
	users, err := s.participants.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	for _, u := range users {
		if u.ID != userID {
			return u, nil
		}
	}
	return nil, fmt.Errorf("peer of %s: %w", conversationID, domain.ErrNotFound)
}
