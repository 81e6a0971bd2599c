package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pairchat/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = `id, username, email, avatar_url, status, created_at`

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = domain.NewID()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, avatar_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.AvatarURL, u.Status, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user: %w", domain.ErrConflict)
	}
	return wrap("insert user", err)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanUser(ctx, query, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	return r.scanUser(ctx, query, username)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.scanUser(ctx, query, email)
}

func (r *UserRepo) FillProfileDefaults(ctx context.Context, id, avatarURL, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET avatar_url = COALESCE(NULLIF(avatar_url, ''), ?),
		    status = CASE WHEN status = '' THEN ? ELSE status END
		WHERE id = ?
	`, avatarURL, status, id)
	return wrap("fill profile defaults", err)
}

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.AvatarURL,
		&u.Status,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, wrap("scan user", err)
	}
	return u, nil
}

func scanUsers(rows *sql.Rows) ([]*domain.User, error) {
	defer rows.Close()
	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(
			&u.ID,
			&u.Username,
			&u.Email,
			&u.AvatarURL,
			&u.Status,
			&u.CreatedAt,
		); err != nil {
			return nil, wrap("scan user", err)
		}
		users = append(users, u)
	}
	return users, wrap("iterate users", rows.Err())
}
