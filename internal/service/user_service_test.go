package service_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

const (
	u1 = "11111111-1111-4111-8111-111111111111"
	u2 = "22222222-2222-4222-8222-222222222222"
)

func strPtr(s string) *string { return &s }

func caller(id string) domain.Caller {
	return domain.Caller{UserID: id, Active: true}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	bob := &domain.User{ID: u2, Username: "bob", Email: strPtr("bob@example.com")}
	alice := &domain.User{ID: u1, Username: "alice", Email: strPtr("alice@example.com")}

	t.Run("ByUsername", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())
		repo.On("GetByUsername", mock.Anything, "bob").Return(bob, nil).Once()

		id, err := svc.Resolve(ctx, caller(u1), "  bob ")
		require.NoError(t, err)
		assert.Equal(t, u2, id)
		repo.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	})

	t.Run("FallsBackToEmail", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())
		repo.On("GetByUsername", mock.Anything, "bob@example.com").Return(nil, domain.ErrNotFound).Once()
		repo.On("GetByEmail", mock.Anything, "bob@example.com").Return(bob, nil).Once()

		id, err := svc.Resolve(ctx, caller(u1), "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, u2, id)
	})

	t.Run("CaseRespecting", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())
		repo.On("GetByUsername", mock.Anything, "Bob").Return(nil, domain.ErrNotFound).Once()
		repo.On("GetByEmail", mock.Anything, "Bob").Return(nil, domain.ErrNotFound).Once()

		_, err := svc.Resolve(ctx, caller(u1), "Bob")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("CanonicalIDVerified", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())
		repo.On("GetByID", mock.Anything, u2).Return(bob, nil).Once()

		id, err := svc.Resolve(ctx, caller(u1), "22222222-2222-4222-8222-222222222222")
		require.NoError(t, err)
		assert.Equal(t, u2, id)
		repo.AssertNotCalled(t, "GetByUsername", mock.Anything, mock.Anything)
	})

	t.Run("CanonicalIDMissing", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())
		missing := "33333333-3333-4333-8333-333333333333"
		repo.On("GetByID", mock.Anything, missing).Return(nil, domain.ErrNotFound).Once()

		_, err := svc.Resolve(ctx, caller(u1), missing)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("OwnEmailIsSelfReference", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())
		repo.On("GetByUsername", mock.Anything, "alice@example.com").Return(nil, domain.ErrNotFound).Once()
		repo.On("GetByEmail", mock.Anything, "alice@example.com").Return(alice, nil).Once()

		_, err := svc.Resolve(ctx, caller(u1), "alice@example.com")
		assert.ErrorIs(t, err, domain.ErrSelfReference)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())

		_, err := svc.Resolve(ctx, domain.Caller{}, "bob")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
		repo.AssertNotCalled(t, "GetByUsername", mock.Anything, mock.Anything)
	})

	t.Run("Empty", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, service.ProfileDefaults{}, zerolog.Nop())

		_, err := svc.Resolve(ctx, caller(u1), "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	defaults := service.ProfileDefaults{AvatarURL: "/Images/me.jpeg", Status: "Hey there! I am using Chat."}

	t.Run("CreatesFromMetadata", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, defaults, zerolog.Nop())
		repo.On("GetByID", mock.Anything, u1).Return(nil, domain.ErrNotFound).Once()
		repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.ID == u1 && u.Username == "alice" &&
				u.AvatarURL != nil && *u.AvatarURL == defaults.AvatarURL &&
				u.Status == defaults.Status
		})).Return(nil).Once()

		u, err := svc.Provision(ctx, service.ProvisionInput{ID: u1, Email: "a@example.com", Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		repo.AssertExpectations(t)
	})

	t.Run("UsernameFromEmail", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, defaults, zerolog.Nop())
		repo.On("GetByID", mock.Anything, u1).Return(nil, domain.ErrNotFound).Once()
		repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "carol"
		})).Return(nil).Once()

		u, err := svc.Provision(ctx, service.ProvisionInput{ID: u1, Email: "carol@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "carol", u.Username)
	})

	t.Run("UsernameFromID", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, defaults, zerolog.Nop())
		repo.On("GetByID", mock.Anything, u2).Return(nil, domain.ErrNotFound).Once()
		repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

		u, err := svc.Provision(ctx, service.ProvisionInput{ID: u2})
		require.NoError(t, err)
		assert.Equal(t, "user_22222222", u.Username)
	})

	t.Run("ExistingFillsDefaults", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, defaults, zerolog.Nop())
		bare := &domain.User{ID: u1, Username: "alice"}
		filled := &domain.User{ID: u1, Username: "alice", AvatarURL: strPtr(defaults.AvatarURL), Status: defaults.Status}
		repo.On("GetByID", mock.Anything, u1).Return(bare, nil).Once()
		repo.On("FillProfileDefaults", mock.Anything, u1, defaults.AvatarURL, defaults.Status).Return(nil).Once()
		repo.On("GetByID", mock.Anything, u1).Return(filled, nil).Once()

		u, err := svc.Provision(ctx, service.ProvisionInput{ID: u1})
		require.NoError(t, err)
		assert.Equal(t, defaults.Status, u.Status)
		repo.AssertExpectations(t)
	})

	t.Run("UsernameTaken", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc := service.NewUserService(repo, nil, defaults, zerolog.Nop())
		repo.On("GetByID", mock.Anything, u2).Return(nil, domain.ErrNotFound).Twice()
		repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "bob"
		})).Return(domain.ErrConflict).Once()
		repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Username == "bob_22222222"
		})).Return(nil).Once()

		u, err := svc.Provision(ctx, service.ProvisionInput{ID: u2, Username: "bob"})
		require.NoError(t, err)
		assert.Equal(t, "bob_22222222", u.Username)
		repo.AssertExpectations(t)
	})
}
