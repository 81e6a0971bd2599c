package janitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/domain"
	"pairchat/internal/store/sqlite"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	alice := &domain.User{ID: "11111111-1111-4111-8111-111111111111", Username: "alice"}
	bob := &domain.User{ID: "22222222-2222-4222-8222-222222222222", Username: "bob"}
	users := sqlite.NewUserRepo(db)
	require.NoError(t, users.Create(ctx, alice))
	require.NoError(t, users.Create(ctx, bob))

	convs := sqlite.NewConversationRepo(db)
	healthy := &domain.Conversation{CreatorID: alice.ID}
	require.NoError(t, convs.CreateDirect(ctx, healthy, alice.ID, bob.ID))

	// A conversation row whose participants were never written.
	_, err = db.Exec(`INSERT INTO conversations (id, is_group, creator_id, pair_key, created_at) VALUES (?, 0, ?, NULL, ?)`,
		"orphan", alice.ID, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	j := New(convs, 5*time.Minute, zerolog.Nop())
	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = convs.GetByID(ctx, "orphan")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = convs.GetByID(ctx, healthy.ID)
	assert.NoError(t, err)

	n, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_GraceProtectsFreshRows(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	alice := &domain.User{ID: "11111111-1111-4111-8111-111111111111", Username: "alice"}
	require.NoError(t, sqlite.NewUserRepo(db).Create(ctx, alice))
	_, err = db.Exec(`INSERT INTO conversations (id, is_group, creator_id, pair_key, created_at) VALUES (?, 0, ?, NULL, ?)`,
		"fresh", alice.ID, time.Now().UTC())
	require.NoError(t, err)

	j := New(sqlite.NewConversationRepo(db), 5*time.Minute, zerolog.Nop())
	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	j := New(nil, time.Minute, zerolog.Nop())
	assert.Error(t, j.Start("not a schedule"))
	j.Stop()
}
