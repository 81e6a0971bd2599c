package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
)

// MembershipGuard gates conversation reads and writes on participation.
// It fails closed: a lookup error is a denial. Membership never changes once
// a conversation exists, so positive answers are cached; denials are not.
type MembershipGuard struct {
	participants domain.ParticipantRepository
	cache        *lru.Cache
	log          zerolog.Logger
}

func NewMembershipGuard(participants domain.ParticipantRepository, cacheSize int, log zerolog.Logger) *MembershipGuard {
	g := &MembershipGuard{
		participants: participants,
		log:          log.With().Str("component", "membership").Logger(),
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err == nil {
			g.cache = cache
		}
	}
	return g
}

func membershipKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

// Allowed reports whether userID currently participates in conversationID.
func (g *MembershipGuard) Allowed(ctx context.Context, conversationID, userID string) bool {
	if conversationID == "" || userID == "" {
		return false
	}
	key := membershipKey(conversationID, userID)
	if g.cache != nil {
		if _, ok := g.cache.Get(key); ok {
			return true
		}
	}

	ok, err := g.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		g.log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("user_id", userID).
			Msg("membership lookup failed, denying")
		return false
	}
	if ok && g.cache != nil {
		g.cache.Add(key, struct{}{})
	}
	return ok
}

// Require is Allowed as an error: ErrUnauthenticated without a user,
// ErrForbidden on any denial.
func (g *MembershipGuard) Require(ctx context.Context, conversationID, userID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	if !g.Allowed(ctx, conversationID, userID) {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrForbidden)
	}
	return nil
}
