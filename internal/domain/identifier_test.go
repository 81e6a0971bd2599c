package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw   string
		kind  IdentifierKind
		value string
	}{
		{"  alice ", LookupKey, "alice"},
		{"alice@example.com", LookupKey, "alice@example.com"},
		{"6F9619FF-8B86-4011-B42D-00C04FC964FF", CanonicalID, "6f9619ff-8b86-4011-b42d-00c04fc964ff"},
		{" 6f9619ff-8b86-4011-b42d-00c04fc964ff\n", CanonicalID, "6f9619ff-8b86-4011-b42d-00c04fc964ff"},
		// version nibble 0 and 7 are outside the accepted range
		{"6f9619ff-8b86-0011-b42d-00c04fc964ff", LookupKey, "6f9619ff-8b86-0011-b42d-00c04fc964ff"},
		{"6f9619ff-8b86-7011-b42d-00c04fc964ff", LookupKey, "6f9619ff-8b86-7011-b42d-00c04fc964ff"},
		// non RFC 4122 variant
		{"6f9619ff-8b86-4011-c42d-00c04fc964ff", LookupKey, "6f9619ff-8b86-4011-c42d-00c04fc964ff"},
		{"{6f9619ff-8b86-4011-b42d-00c04fc964ff}", LookupKey, "{6f9619ff-8b86-4011-b42d-00c04fc964ff}"},
		{"6f9619ff8b864011b42d00c04fc964ff", LookupKey, "6f9619ff8b864011b42d00c04fc964ff"},
		{"", LookupKey, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Classify(tt.raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.value, got.Value)
		})
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("a", "b"), PairKey("a", "c"))
}

func TestErrorClasses(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("read: %w", ErrTransientStore)))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.False(t, IsRetryable(ErrForbidden))
	assert.False(t, IsRetryable(errors.Join(ErrTransientStore, ErrNotFound)))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsTerminal(fmt.Errorf("x: %w", ErrEmptyMessage)))
	assert.False(t, IsTerminal(ErrCreationFailed))

	err := Deadline(fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, Deadline(nil))
	assert.Equal(t, ErrForbidden, Deadline(ErrForbidden))
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, err := range []error{ErrForbidden, ErrNotFound, ErrSelfReference, ErrTimeout, ErrEmptyMessage} {
		assert.ErrorIs(t, FromCode(Code(fmt.Errorf("op: %w", err))), err)
	}
	assert.Equal(t, "internal", Code(errors.New("boom")))
	assert.ErrorIs(t, FromCode("internal"), ErrTransientStore)
}

func TestErrorCodes_CreationFailedWinsOverCause(t *testing.T) {
	err := fmt.Errorf("locate: %w: %w", ErrCreationFailed, fmt.Errorf("insert: %w", ErrTransientStore))
	assert.Equal(t, "creation_failed", Code(err))
	assert.ErrorIs(t, FromCode(Code(err)), ErrCreationFailed)
	assert.NotErrorIs(t, FromCode(Code(err)), ErrTransientStore)
}

func TestCallerContext(t *testing.T) {
	assert.False(t, CallerFrom(context.Background()).Authenticated())
	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Active: true})
	assert.Equal(t, "u1", CallerFrom(ctx).UserID)
}
