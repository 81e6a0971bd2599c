package chatsync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id int64, at time.Duration, body string) *domain.Message {
	return &domain.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       "u1",
		Body:           body,
		Kind:           domain.KindText,
		CreatedAt:      t0.Add(at),
	}
}

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.ID)
	}
	return out
}

func TestTimeline_OrderIndependentOfArrival(t *testing.T) {
	tl := NewTimeline()
	tl.Upsert(msg(3, 3*time.Second, "c"))
	tl.Upsert(msg(1, time.Second, "a"))
	tl.Upsert(msg(4, 3*time.Second, "d"))
	tl.Upsert(msg(2, 2*time.Second, "b"))

	assert.Equal(t, []int64{1, 2, 3, 4}, ids(tl.Entries()))
}

func TestTimeline_UpsertIsIdempotent(t *testing.T) {
	tl := NewTimeline()
	assert.True(t, tl.Upsert(msg(1, 0, "a")))
	assert.False(t, tl.Upsert(msg(1, 0, "a")))
	assert.False(t, tl.MergeAll([]*domain.Message{msg(1, 0, "a")}))
	assert.Equal(t, 1, tl.Len())
}

func TestTimeline_ProvisionalAfterConfirmed(t *testing.T) {
	tl := NewTimeline()
	tl.Upsert(msg(1, 0, "a"))
	tl.AddProvisional(Entry{LocalID: "l1", Message: *msg(0, -time.Hour, "mine"), Status: Pending})
	tl.AddProvisional(Entry{LocalID: "l2", Message: *msg(0, -time.Hour, "mine too"), Status: Pending})
	tl.Upsert(msg(2, time.Second, "b"))

	entries := tl.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "a", entries[0].Message.Body)
	assert.Equal(t, "b", entries[1].Message.Body)
	assert.Equal(t, "l1", entries[2].LocalID)
	assert.Equal(t, "l2", entries[3].LocalID)
}

func TestTimeline_ConfirmReplacesInPlace(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(Entry{LocalID: "l1", Message: *msg(0, 0, "hi"), Status: Pending})

	assert.True(t, tl.Confirm("l1", msg(7, 0, "hi")))
	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Message.ID)
	assert.False(t, entries[0].Provisional())
}

func TestTimeline_ConfirmKeepsSender(t *testing.T) {
	tl := NewTimeline()
	sender := &domain.Sender{ID: "u1", Username: "alice"}
	pending := msg(0, 0, "hi")
	pending.Sender = sender
	tl.AddProvisional(Entry{LocalID: "l1", Message: *pending, Status: Pending})

	bare := msg(7, 0, "hi")
	require.True(t, tl.Confirm("l1", bare))
	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Same(t, sender, entries[0].Message.Sender)
	assert.Nil(t, bare.Sender)

	// A record that brings its own profile wins.
	other := &domain.Sender{ID: "u1", Username: "alice2"}
	tl.AddProvisional(Entry{LocalID: "l2", Message: *pending, Status: Pending})
	withSender := msg(8, time.Second, "again")
	withSender.Sender = other
	require.True(t, tl.Confirm("l2", withSender))
	assert.Same(t, other, tl.Entries()[1].Message.Sender)
}

func TestTimeline_ConfirmAfterFeedDelivery(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(Entry{LocalID: "l1", Message: *msg(0, 0, "hi"), Status: Pending})
	tl.Upsert(msg(7, 0, "hi")) // feed beat the write response

	tl.Confirm("l1", msg(7, 0, "hi"))
	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Message.ID)
}

func TestTimeline_FailRetryRemove(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(Entry{LocalID: "l1", Message: *msg(0, 0, "hi"), Status: Pending})

	boom := errors.New("boom")
	assert.True(t, tl.Fail("l1", boom))
	e, ok := tl.Provisional("l1")
	require.True(t, ok)
	assert.Equal(t, Failed, e.Status)
	assert.Equal(t, boom, e.Err)

	e, ok = tl.MarkPending("l1")
	require.True(t, ok)
	assert.Equal(t, Pending, e.Status)
	assert.NoError(t, e.Err)

	assert.True(t, tl.Remove("l1"))
	assert.False(t, tl.Remove("l1"))
	assert.Empty(t, tl.Entries())

	tl.AddProvisional(Entry{LocalID: "l2", Status: Pending})
	tl.DropProvisional()
	assert.Empty(t, tl.Entries())
}

func TestMerge_SkipsOverlayAlreadyConfirmed(t *testing.T) {
	confirmed := []*domain.Message{msg(1, 0, "a")}
	overlay := []*Entry{
		{LocalID: "l1", Message: *msg(1, 0, "a"), Status: Pending},
		{LocalID: "l2", Message: *msg(0, 0, "b"), Status: Pending},
	}
	out := Merge(confirmed, overlay)
	require.Len(t, out, 2)
	assert.Equal(t, Confirmed, out[0].Status)
	assert.Equal(t, "l2", out[1].LocalID)
}
