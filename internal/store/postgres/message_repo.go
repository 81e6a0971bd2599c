package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"pairchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// Reads join the sender's public profile.
const (
	messageColumns = `m.id, m.conversation_id, m.sender_id, m.body, m.media_url, m.kind, m.created_at, u.username, u.avatar_url`
	messageFrom    = `messages m JOIN users u ON u.id = m.sender_id`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{Sender: &domain.Sender{}}
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Body,
		&m.MediaURL,
		&m.Kind,
		&m.CreatedAt,
		&m.Sender.Username,
		&m.Sender.AvatarURL,
	); err != nil {
		return nil, err
	}
	m.Sender.ID = m.SenderID
	return m, nil
}

// fillSender attaches the sender profile to a freshly inserted message that
// was written without one. The row is committed either way, so a failed
// lookup only leaves Sender nil.
func (r *MessageRepo) fillSender(ctx context.Context, m *domain.Message) {
	if m.Sender != nil {
		return
	}
	s := &domain.Sender{ID: m.SenderID}
	err := r.db.QueryRowContext(ctx, `SELECT username, avatar_url FROM users WHERE id = $1`, m.SenderID).
		Scan(&s.Username, &s.AvatarURL)
	if err == nil {
		m.Sender = s
	}
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body, media_url, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`, m.ConversationID, m.SenderID, m.Body, m.MediaURL, string(m.Kind)).Scan(&m.ID, &m.CreatedAt)
	switch pgCode(err) {
	case codeForeignKeyViolation:
		return fmt.Errorf("insert message: %w", domain.ErrForbidden)
	case codeCheckViolation:
		return fmt.Errorf("insert message: %w", domain.ErrEmptyMessage)
	}
	if err != nil {
		return wrap("insert message", err)
	}
	r.fillSender(ctx, m)
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM `+messageFrom+` WHERE m.id = $1`, id))
	if err != nil {
		return nil, wrap("get message", err)
	}
	return m, nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM `+messageFrom+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, conversationID)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrap("scan message", err)
		}
		res = append(res, m)
	}
	return res, wrap("iterate messages", rows.Err())
}

func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM `+messageFrom+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, conversationID))
	if err != nil {
		return nil, wrap("latest message", err)
	}
	return m, nil
}

func (r *MessageRepo) ListMediaBySender(ctx context.Context, senderID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT media_url
		FROM messages
		WHERE sender_id = $1 AND kind = 'image' AND media_url IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, senderID, limit)
	if err != nil {
		return nil, wrap("list media", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, wrap("scan media", err)
		}
		urls = append(urls, u)
	}
	return urls, wrap("iterate media", rows.Err())
}
