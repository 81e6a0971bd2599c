package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pairchat/internal/domain"
)

func TestIntersectDirect(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := []domain.Membership{
		{ConversationID: "group", IsGroup: true, CreatedAt: t0},
		{ConversationID: "newer", CreatedAt: t0.Add(time.Hour)},
		{ConversationID: "older", CreatedAt: t0},
		{ConversationID: "a-only", CreatedAt: t0},
	}
	b := []domain.Membership{
		{ConversationID: "group", IsGroup: true, CreatedAt: t0},
		{ConversationID: "newer", CreatedAt: t0.Add(time.Hour)},
		{ConversationID: "older", CreatedAt: t0},
		{ConversationID: "b-only", CreatedAt: t0},
	}

	got := intersectDirect(a, b)
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ConversationID)
	}
	assert.Equal(t, []string{"older", "newer"}, ids)

	assert.Empty(t, intersectDirect(a, nil))
}
