package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
)

// profileMediaLimit is how many recent images the profile panel shows.
const profileMediaLimit = 6

type UserService struct {
	users    domain.UserRepository
	messages domain.MessageRepository
	defaults ProfileDefaults
	log      zerolog.Logger
}

// ProfileDefaults fill empty profile fields on provisioning.
type ProfileDefaults struct {
	AvatarURL string
	Status    string
}

func NewUserService(users domain.UserRepository, messages domain.MessageRepository, defaults ProfileDefaults, log zerolog.Logger) *UserService {
	return &UserService{
		users:    users,
		messages: messages,
		defaults: defaults,
		log:      log.With().Str("component", "users").Logger(),
	}
}

// Resolve maps a human-entered identifier to a canonical user id. Canonical
// ids are still checked for existence; lookup keys match a username first,
// then an email, both exact and case-respecting.
func (s *UserService) Resolve(ctx context.Context, caller domain.Caller, raw string) (string, error) {
	if !caller.Authenticated() {
		return "", domain.ErrUnauthenticated
	}
	ident := domain.Classify(raw)
	if ident.Value == "" {
		return "", fmt.Errorf("empty identifier: %w", domain.ErrInvalidInput)
	}

	var (
		u   *domain.User
		err error
	)
	switch ident.Kind {
	case domain.CanonicalID:
		u, err = s.users.GetByID(ctx, ident.Value)
	default:
		u, err = s.users.GetByUsername(ctx, ident.Value)
		if errors.Is(err, domain.ErrNotFound) {
			u, err = s.users.GetByEmail(ctx, ident.Value)
		}
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s %q: %w", ident.Kind, ident.Value, err)
	}
	if u.ID == caller.UserID {
		return "", domain.ErrSelfReference
	}
	return u.ID, nil
}

// ProvisionInput is what the identity provider tells us about a caller.
type ProvisionInput struct {
	ID       string
	Email    string
	Username string
}

// Provision returns the user row for an authenticated identity, creating it
// on first sight and filling empty profile fields with defaults.
func (s *UserService) Provision(ctx context.Context, in ProvisionInput) (*domain.User, error) {
	if in.ID == "" {
		return nil, domain.ErrUnauthenticated
	}

	u, err := s.users.GetByID(ctx, in.ID)
	switch {
	case err == nil:
		if u.AvatarURL == nil || *u.AvatarURL == "" || u.Status == "" {
			if err := s.users.FillProfileDefaults(ctx, u.ID, s.defaults.AvatarURL, s.defaults.Status); err != nil {
				return nil, fmt.Errorf("fill profile defaults: %w", err)
			}
			return s.users.GetByID(ctx, in.ID)
		}
		return u, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get user: %w", err)
	}

	u = &domain.User{
		ID:       in.ID,
		Username: defaultUsername(in),
		Status:   s.defaults.Status,
	}
	if in.Email != "" {
		email := in.Email
		u.Email = &email
	}
	if s.defaults.AvatarURL != "" {
		avatar := s.defaults.AvatarURL
		u.AvatarURL = &avatar
	}

	err = s.users.Create(ctx, u)
	if errors.Is(err, domain.ErrConflict) {
		// Either a concurrent request provisioned the same id, or the
		// username belongs to someone else.
		if existing, getErr := s.users.GetByID(ctx, in.ID); getErr == nil {
			return existing, nil
		}
		u.Username = u.Username + "_" + shortID(in.ID)
		err = s.users.Create(ctx, u)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("provisioned user")
	return u, nil
}

func defaultUsername(in ProvisionInput) string {
	if name := strings.TrimSpace(in.Username); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(in.Email, "@"); ok && local != "" {
		return local
	}
	return "user_" + shortID(in.ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Profile is the caller's own profile with their most recent shared images.
type Profile struct {
	User        *domain.User `json:"user"`
	RecentMedia []string     `json:"recent_media"`
}

func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	media, err := s.messages.ListMediaBySender(ctx, userID, profileMediaLimit)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	if media == nil {
		media = []string{}
	}
	return &Profile{User: u, RecentMedia: media}, nil
}
