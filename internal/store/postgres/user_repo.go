package postgres

import (
	"context"
	"database/sql"
	"fmt"

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
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, avatar_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, u.ID, u.Username, u.Email, u.AvatarURL, u.Status).Scan(&u.CreatedAt)
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("insert user: %w", domain.ErrConflict)
	}
	return wrap("insert user", err)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepo) FillProfileDefaults(ctx context.Context, id, avatarURL, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET avatar_url = COALESCE(NULLIF(avatar_url, ''), $1),
		    status = CASE WHEN status = '' THEN $2 ELSE status END
		WHERE id = $3
	`, avatarURL, status, id)
	return wrap("fill profile defaults", err)
}

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.CreatedAt,
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
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &u.Status, &u.CreatedAt); err != nil {
			return nil, wrap("scan user", err)
		}
		users = append(users, u)
	}
	return users, wrap("iterate users", rows.Err())
}
