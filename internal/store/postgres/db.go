package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NotifyChannel is the LISTEN/NOTIFY channel the messages trigger writes to.
const NotifyChannel = "chat_messages"

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id          UUID         PRIMARY KEY,
			username    VARCHAR(50)  UNIQUE NOT NULL,
			email       VARCHAR(100) UNIQUE,
			avatar_url  TEXT,
			status      TEXT         NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id          UUID         PRIMARY KEY,
			is_group    BOOLEAN      NOT NULL DEFAULT FALSE,
			creator_id  UUID         NOT NULL REFERENCES users(id),
			pair_key    TEXT,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id UUID        NOT NULL REFERENCES conversations(id),
			user_id         UUID        NOT NULL REFERENCES users(id),
			joined_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL   PRIMARY KEY,
			conversation_id UUID        NOT NULL,
			sender_id       UUID        NOT NULL,
			body            TEXT        NOT NULL DEFAULT '',
			media_url       TEXT,
			kind            TEXT        NOT NULL CHECK (kind IN ('text', 'image')),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT messages_not_empty CHECK (body <> '' OR COALESCE(media_url, '') <> ''),
			CONSTRAINT messages_sender_participant FOREIGN KEY (conversation_id, sender_id)
				REFERENCES conversation_participants(conversation_id, user_id)
		)`,

		// Indexes
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_pair ON conversations(pair_key) WHERE is_group = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_kind ON messages(sender_id, kind, created_at DESC)`,

		// Insert notifications carry only the key; listeners re-read the row.
		`CREATE OR REPLACE FUNCTION notify_chat_message() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
				'id', NEW.id,
				'conversation_id', NEW.conversation_id
			)::text);
			RETURN NEW;
		END
		$$ LANGUAGE plpgsql`,

		`DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_trigger WHERE tgname = 'messages_notify_insert'
			) THEN
				CREATE TRIGGER messages_notify_insert
				AFTER INSERT ON messages
				FOR EACH ROW EXECUTE FUNCTION notify_chat_message();
			END IF;
		END
		$$`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
