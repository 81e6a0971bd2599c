package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pairchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// CreateDirect inserts the conversation and both participants in one
// transaction. A concurrent creator for the same pair surfaces as
// domain.ErrConflict from the pair_key unique index.
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin tx", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id, is_group, creator_id, pair_key, created_at)
		VALUES ($1, FALSE, $2, $3, NOW())
		RETURNING created_at
	`, c.ID, c.CreatorID, key).Scan(&c.CreatedAt); err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return fmt.Errorf("insert conversation: %w", domain.ErrConflict)
		case codeForeignKeyViolation:
			return fmt.Errorf("insert conversation: creator %s: %w", c.CreatorID, domain.ErrNotFound)
		}
		return wrap("insert conversation", err)
	}

	for _, uid := range []string{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES ($1, $2, $3)
		`, c.ID, uid, c.CreatedAt); err != nil {
			if pgCode(err) == codeForeignKeyViolation {
				return fmt.Errorf("insert participant %s: %w", uid, domain.ErrNotFound)
			}
			return wrap(fmt.Sprintf("insert participant %s", uid), err)
		}
	}

	return wrap("commit", tx.Commit())
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, is_group, creator_id, pair_key, created_at
		FROM conversations WHERE id = $1
	`, id).Scan(&c.ID, &c.IsGroup, &c.CreatorID, &c.PairKey, &c.CreatedAt)
	if err != nil {
		return nil, wrap("get conversation", err)
	}
	return c, nil
}

func (r *ConversationRepo) FindDirect(ctx context.Context, a, b string) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, is_group, creator_id, pair_key, created_at
		FROM conversations
		WHERE pair_key = $1 AND is_group = FALSE
	`, domain.PairKey(a, b)).Scan(&c.ID, &c.IsGroup, &c.CreatorID, &c.PairKey, &c.CreatedAt)
	if err != nil {
		return nil, wrap("find direct conversation", err)
	}
	return c, nil
}

func (r *ConversationRepo) ListMemberships(ctx context.Context, userID string) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.is_group, c.created_at
		FROM conversation_participants cp
		JOIN conversations c ON c.id = cp.conversation_id
		WHERE cp.user_id = $1
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

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE orphan_conversations ON COMMIT DROP AS
		SELECT c.id
		FROM conversations c
		WHERE c.is_group = FALSE
		  AND c.created_at < $1
		  AND (SELECT COUNT(*) FROM conversation_participants cp WHERE cp.conversation_id = c.id) < 2
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id)
	`, before); err != nil {
		return 0, wrap("select orphans", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id IN (SELECT id FROM orphan_conversations)
	`); err != nil {
		return 0, wrap("delete orphan participants", err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE id IN (SELECT id FROM orphan_conversations)
	`)
	if err != nil {
		return 0, wrap("delete orphans", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, wrap("commit", err)
	}
	return n, nil
}
