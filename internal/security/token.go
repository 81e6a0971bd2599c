package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pairchat/internal/domain"
)

// Identity is what a verified bearer token says about its holder.
type Identity struct {
	UserID   string
	Email    string
	Username string
}

type userMetadata struct {
	Username string `json:"username,omitempty"`
}

// Claims follows the identity provider's token layout: the subject is the
// canonical user id, profile hints ride along.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata userMetadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// TokenService verifies (and, for tooling and tests, issues) HS256 tokens.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// Issue creates a token for id using the default TTL.
func (t *TokenService) Issue(id Identity) (string, error) {
	return t.IssueWithTTL(id, t.expiresIn)
}

// IssueWithTTL creates a token for id with an explicit TTL.
func (t *TokenService) IssueWithTTL(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:        id.Email,
		UserMetadata: userMetadata{Username: id.Username},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns the identity it carries. The subject
// must be a canonical user id.
func (t *TokenService) Parse(tokenStr string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, domain.ErrUnauthenticated
	}

	sub := domain.Classify(claims.Subject)
	if sub.Kind != domain.CanonicalID {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, errors.New("subject is not a user id"))
	}
	return &Identity{
		UserID:   sub.Value,
		Email:    claims.Email,
		Username: claims.UserMetadata.Username,
	}, nil
}
