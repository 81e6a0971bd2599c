package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"pairchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// CreateDirect writes the conversation row and both participant rows in one
// transaction. The pair_key unique index turns a lost creation race into
// domain.ErrConflict; the transaction is rolled back so no partial
// membership survives.
func (r *ConversationRepo) CreateDirect(ctx context.Context, c *domain.Conversation, a, b string) error {
	if a == b {
		return fmt.Errorf("create direct conversation: %w", domain.ErrSelfReference)
	}
	if c.ID == "" {
		c.ID = domain.NewID()
	}
	key := domain.PairKey(a, b)
	c.PairKey = &key
	c.IsGroup = false
	c.CreatedAt = time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, creator_id, pair_key, created_at)
		VALUES (?, 0, ?, ?, ?)
	`, c.ID, c.CreatorID, key, c.CreatedAt); err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("insert conversation: %w", domain.ErrConflict)
		case constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("insert conversation: creator %s: %w", c.CreatorID, domain.ErrNotFound)
		}
		return wrap("insert conversation", err)
	}

	for _, uid := range []string{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, c.ID, uid, c.CreatedAt); err != nil {
			if constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
				return fmt.Errorf("insert participant %s: %w", uid, domain.ErrNotFound)
			}
			return wrap("insert participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("commit: %w", domain.ErrConflict)
		}
		return wrap("commit", err)
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, is_group, creator_id, pair_key, created_at
		FROM conversations
		WHERE id = ?
	`
	return r.scanConversation(r.db.QueryRowContext(ctx, query, id))
}

// FindDirect looks the pair up by its key, which is what the uniqueness
// constraint is declared on.
func (r *ConversationRepo) FindDirect(ctx context.Context, a, b string) (*domain.Conversation, error) {
	query := `
		SELECT id, is_group, creator_id, pair_key, created_at
		FROM conversations
		WHERE pair_key = ? AND is_group = 0
	`
	return r.scanConversation(r.db.QueryRowContext(ctx, query, domain.PairKey(a, b)))
}

func (r *ConversationRepo) ListMemberships(ctx context.Context, userID string) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.is_group, c.created_at
		FROM conversation_participants cp
		JOIN conversations c ON c.id = cp.conversation_id
		WHERE cp.user_id = ?
		ORDER BY c.created_at ASC
	`, userID)
	if err != nil {
		return nil, wrap("list memberships", err)
	}
	defer rows.Close()

	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ConversationID, &m.IsGroup, &m.CreatedAt); err != nil {
			return nil, wrap("scan membership", err)
		}
		res = append(res, m)
	}
	return res, wrap("iterate memberships", rows.Err())
}

func (r *ConversationRepo) DeleteOrphans(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("begin tx", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		WHERE c.is_group = 0
		  AND c.created_at < ?
		  AND (SELECT COUNT(*) FROM conversation_participants cp WHERE cp.conversation_id = c.id) < 2
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id)
	`, before.UTC())
	if err != nil {
		return 0, wrap("select orphans", err)
	}
	var ids []any
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, wrap("scan orphan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrap("iterate orphans", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	in := `(?` + strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id IN `+in, ids...); err != nil {
		return 0, wrap("delete orphan participants", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id IN `+in, ids...)
	if err != nil {
		return 0, wrap("delete orphans", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, wrap("commit", err)
	}
	return n, nil
}

func (r *ConversationRepo) scanConversation(row *sql.Row) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	if err := row.Scan(&c.ID, &c.IsGroup, &c.CreatorID, &c.PairKey, &c.CreatedAt); err != nil {
		return nil, wrap("get conversation", err)
	}
	return c, nil
}
