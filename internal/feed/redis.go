package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
)

// RedisChannelPrefix prefixes the per-conversation pub/sub channel.
const RedisChannelPrefix = "chat:messages:"

// NewRedisClient parses url and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// RedisRelay shares the feed between server processes. Publish writes to a
// Redis channel per conversation; Run pattern-subscribes to all of them and
// fans received messages into the local broker that Subscribe reads from.
type RedisRelay struct {
	client *redis.Client
	broker *Broker
	log    zerolog.Logger
}

func NewRedisRelay(client *redis.Client, broker *Broker, log zerolog.Logger) *RedisRelay {
	broker.backend = "redis"
	return &RedisRelay{
		client: client,
		broker: broker,
		log:    log.With().Str("component", "feed.redis").Logger(),
	}
}

var (
	_ domain.Feed      = (*RedisRelay)(nil)
	_ domain.Publisher = (*RedisRelay)(nil)
)

func (r *RedisRelay) Subscribe(ctx context.Context, conversationID string) (domain.Subscription, error) {
	return r.broker.Subscribe(ctx, conversationID)
}

func (r *RedisRelay) Publish(ctx context.Context, m *domain.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, RedisChannelPrefix+m.ConversationID, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Resync resets the local subscribers of a conversation after an event for
// it could not be published. Other instances repair on their next refetch.
func (r *RedisRelay) Resync(conversationID string) {
	r.broker.ResetConversation(conversationID, ErrReset)
}

// Run relays until ctx is done. When the Redis subscription drops, local
// subscribers are reset so they refetch what they may have missed.
func (r *RedisRelay) Run(ctx context.Context) error {
	for {
		err := r.relay(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn().Err(err).Msg("redis subscription lost, resetting subscribers")
		r.broker.Reset(ErrReset)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, RedisChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.log.Info().Msg("relaying redis feed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis channel closed")
			}
			var m domain.Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("decode relayed message")
				continue
			}
			if m.ConversationID == "" {
				m.ConversationID = strings.TrimPrefix(msg.Channel, RedisChannelPrefix)
			}
			_ = r.broker.Publish(ctx, &m)
		}
	}
}
