package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN. The pool is capped at one
// connection: SQLite serializes writers anyway, and a single connection keeps
// pragmas and transactions on the same handle.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent CREATE TABLE / CREATE INDEX statements.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(100) UNIQUE,
			avatar_url TEXT DEFAULT NULL,
			status TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			is_group BOOLEAN NOT NULL DEFAULT 0,
			creator_id TEXT NOT NULL,
			pair_key TEXT DEFAULT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (creator_id) REFERENCES users(id)
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			media_url TEXT DEFAULT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('text', 'image')),
			created_at DATETIME NOT NULL,
			CHECK (body <> '' OR (media_url IS NOT NULL AND media_url <> '')),
			FOREIGN KEY (conversation_id, sender_id)
				REFERENCES conversation_participants(conversation_id, user_id)
		);`,
		// One two-party conversation per unordered pair.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_pair ON conversations(pair_key) WHERE is_group = 0;`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_kind ON messages(sender_id, kind, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
