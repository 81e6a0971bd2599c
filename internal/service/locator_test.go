package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

func mockLocator(repo *MockConversationRepo, maxAttempts int) *service.ConversationService {
	guard := service.NewMembershipGuard(new(MockParticipantRepo), 8, zerolog.Nop())
	return service.NewConversationService(repo, new(MockParticipantRepo), nil, guard, maxAttempts, zerolog.Nop())
}

func direct(id string) []domain.Membership {
	return []domain.Membership{{ConversationID: id, CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}}
}

func TestLocate_ConflictReturnsWinner(t *testing.T) {
	repo := new(MockConversationRepo)
	winner := &domain.Conversation{ID: "conv-winner", CreatorID: u2}

	repo.On("ListMemberships", mock.Anything, u1).Return(nil, nil).Once()
	repo.On("ListMemberships", mock.Anything, u2).Return(nil, nil).Once()
	repo.On("CreateDirect", mock.Anything, mock.AnythingOfType("*domain.Conversation"), u1, u2).
		Return(fmt.Errorf("insert: %w", domain.ErrConflict)).Once()
	repo.On("FindDirect", mock.Anything, u1, u2).Return(winner, nil).Once()

	res, err := mockLocator(repo, 3).FindOrCreateDirect(context.Background(), u1, u2)
	require.NoError(t, err)
	assert.Same(t, winner, res.Conversation)
	assert.False(t, res.Created)
	repo.AssertExpectations(t)
}

func TestLocate_ConflictWithInvisibleWinnerRetries(t *testing.T) {
	repo := new(MockConversationRepo)
	winner := &domain.Conversation{ID: "conv-winner", CreatorID: u2}

	// First pass: nothing shared, the insert conflicts and the re-read
	// misses the winning row.
	repo.On("ListMemberships", mock.Anything, u1).Return(nil, nil).Once()
	repo.On("ListMemberships", mock.Anything, u2).Return(nil, nil).Once()
	repo.On("CreateDirect", mock.Anything, mock.Anything, u1, u2).Return(domain.ErrConflict).Once()
	repo.On("FindDirect", mock.Anything, u1, u2).Return(nil, domain.ErrNotFound).Once()

	// Second pass: the winner is visible to the scan.
	repo.On("ListMemberships", mock.Anything, u1).Return(direct(winner.ID), nil).Once()
	repo.On("ListMemberships", mock.Anything, u2).Return(direct(winner.ID), nil).Once()
	repo.On("GetByID", mock.Anything, winner.ID).Return(winner, nil).Once()

	res, err := mockLocator(repo, 3).FindOrCreateDirect(context.Background(), u1, u2)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, res.Conversation.ID)
	assert.False(t, res.Created)
	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "CreateDirect", 1)
}

func TestLocate_RetriesExhausted(t *testing.T) {
	repo := new(MockConversationRepo)
	repo.On("ListMemberships", mock.Anything, mock.Anything).Return(nil, nil)
	repo.On("CreateDirect", mock.Anything, mock.Anything, u1, u2).
		Return(fmt.Errorf("insert: %w", domain.ErrTransientStore))

	_, err := mockLocator(repo, 2).FindOrCreateDirect(context.Background(), u1, u2)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCreationFailed)
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.Equal(t, "creation_failed", domain.Code(err))
	repo.AssertNumberOfCalls(t, "CreateDirect", 2)
	repo.AssertNotCalled(t, "FindDirect", mock.Anything, mock.Anything, mock.Anything)
}

func TestLocate_TerminalErrorIsNotRetried(t *testing.T) {
	repo := new(MockConversationRepo)
	repo.On("ListMemberships", mock.Anything, mock.Anything).Return(nil, nil)
	repo.On("CreateDirect", mock.Anything, mock.Anything, u1, u2).Return(domain.ErrNotFound).Once()

	_, err := mockLocator(repo, 4).FindOrCreateDirect(context.Background(), u1, u2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrCreationFailed)
	repo.AssertNumberOfCalls(t, "CreateDirect", 1)
}

func TestLocate_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	repo := new(MockConversationRepo)
	conv := &domain.Conversation{ID: "conv-shared", CreatorID: u1}

	release := make(chan struct{})
	scanning := make(chan struct{}, 8)
	blockingScan := func(ctx context.Context, _ string) ([]domain.Membership, error) {
		scanning <- struct{}{}
		select {
		case <-release:
			return direct(conv.ID), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	repo.On("ListMemberships", mock.Anything, mock.Anything).Return(blockingScan, nil)
	repo.On("GetByID", mock.Anything, conv.ID).Return(conv, nil)

	svc := mockLocator(repo, 3)

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.FindOrCreateDirect(first, u1, u2)
		firstErr <- err
	}()
	<-scanning

	type outcome struct {
		res *service.Located
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := svc.FindOrCreateDirect(context.Background(), u2, u1)
		second <- outcome{res, err}
	}()

	cancelFirst()
	err := <-firstErr
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)

	// Give the second caller time to join the lookup still in flight.
	time.Sleep(20 * time.Millisecond)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, conv.ID, got.res.Conversation.ID)
	repo.AssertNumberOfCalls(t, "ListMemberships", 2)
}
