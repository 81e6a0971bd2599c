package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/store/postgres"
)

// ConnectPool creates a pgx connection pool and verifies it with a ping.
func ConnectPool(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 2
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// notification is the payload written by the messages insert trigger.
type notification struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// PGListener turns Postgres NOTIFY events on the messages table into feed
// events. The notification carries only the key; the full row is read back
// before it is published to the local broker.
type PGListener struct {
	pool     *pgxpool.Pool
	messages domain.MessageRepository
	broker   *Broker
	log      zerolog.Logger
}

func NewPGListener(pool *pgxpool.Pool, messages domain.MessageRepository, broker *Broker, log zerolog.Logger) *PGListener {
	broker.backend = "postgres"
	return &PGListener{
		pool:     pool,
		messages: messages,
		broker:   broker,
		log:      log.With().Str("component", "feed.postgres").Logger(),
	}
}

var (
	_ domain.Feed      = (*PGListener)(nil)
	_ domain.Publisher = (*PGListener)(nil)
)

func (l *PGListener) Subscribe(ctx context.Context, conversationID string) (domain.Subscription, error) {
	return l.broker.Subscribe(ctx, conversationID)
}

// Publish is a no-op: the insert trigger notifies listeners.
func (l *PGListener) Publish(context.Context, *domain.Message) error {
	return nil
}

// Run listens until ctx is done, reconnecting with exponential backoff.
// Every reconnect resets local subscribers since notifications sent while
// disconnected are lost.
func (l *PGListener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		err := l.listen(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		l.log.Warn().Err(err).Dur("retry_in", wait).Msg("listen connection lost")
		l.broker.Reset(ErrReset)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *PGListener) listen(ctx context.Context, bo backoff.BackOff) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+postgres.NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	bo.Reset()
	l.log.Info().Str("channel", postgres.NotifyChannel).Msg("listening for messages")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		var note notification
		if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
			l.log.Warn().Err(err).Str("payload", n.Payload).Msg("decode notification")
			continue
		}
		m, err := l.messages.GetByID(ctx, note.ID)
		if err != nil {
			l.log.Warn().Err(err).Int64("message_id", note.ID).Msg("load notified message, resetting subscribers")
			l.broker.ResetConversation(note.ConversationID, ErrReset)
			continue
		}
		_ = l.broker.Publish(ctx, m)
	}
}
