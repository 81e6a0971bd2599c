package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/metrics"
)

var (
	// ErrLagged ends a subscription whose buffer filled up. The subscriber
	// missed events and has to refetch.
	ErrLagged = errors.New("feed subscriber lagged")
	// ErrReset ends every subscription after the upstream source lost
	// events, e.g. a dropped LISTEN connection.
	ErrReset = errors.New("feed upstream reset")
	// ErrClosed ends subscriptions when the broker shuts down.
	ErrClosed = errors.New("feed closed")
)

const defaultBuffer = 64

// Broker fans inserted messages out to the subscribers of their
// conversation. It is the in-process feed; the Redis and Postgres feeds
// relay into one.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool

	buffer  int
	backend string
	log     zerolog.Logger
}

func NewBroker(log zerolog.Logger, buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		subs:    make(map[string]map[*subscription]struct{}),
		buffer:  buffer,
		backend: "local",
		log:     log.With().Str("component", "feed").Logger(),
	}
}

var (
	_ domain.Feed      = (*Broker)(nil)
	_ domain.Publisher = (*Broker)(nil)
)

// Subscribe registers a subscriber for conversationID. The subscription ends
// when ctx is done, when Close is called, or when the broker drops it.
func (b *Broker) Subscribe(ctx context.Context, conversationID string) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Deadline(err)
	}
	s := &subscription{
		broker:         b,
		conversationID: conversationID,
		events:         make(chan *domain.Message, b.buffer),
		done:           make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[*subscription]struct{})
	}
	b.subs[conversationID][s] = struct{}{}
	b.mu.Unlock()
	metrics.FeedSubscribers.Inc()

	go func() {
		select {
		case <-ctx.Done():
			s.end(ctx.Err())
		case <-s.done:
		}
	}()
	return s, nil
}

// Publish delivers m to every current subscriber of its conversation without
// blocking. Subscribers whose buffer is full are dropped with ErrLagged.
func (b *Broker) Publish(_ context.Context, m *domain.Message) error {
	if m == nil {
		return nil
	}
	cp := *m

	var lagging []*subscription
	b.mu.RLock()
	for s := range b.subs[cp.ConversationID] {
		select {
		case s.events <- &cp:
			metrics.RecordFeedEvent(b.backend, "delivered")
		default:
			lagging = append(lagging, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range lagging {
		metrics.RecordFeedEvent(b.backend, "dropped")
		b.log.Warn().
			Str("conversation_id", cp.ConversationID).
			Msg("dropping lagging subscriber")
		s.end(ErrLagged)
	}
	return nil
}

// Reset ends every subscription with err so subscribers resubscribe and
// refetch.
func (b *Broker) Reset(err error) {
	for _, s := range b.snapshot() {
		s.end(err)
	}
}

// ResetConversation ends the subscriptions of one conversation with err.
func (b *Broker) ResetConversation(conversationID string, err error) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[conversationID]))
	for s := range b.subs[conversationID] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.end(err)
	}
}

// Resync makes the local subscribers of a conversation refetch.
func (b *Broker) Resync(conversationID string) {
	b.ResetConversation(conversationID, ErrReset)
}

// Close ends all subscriptions and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Reset(ErrClosed)
}

// Subscribers returns the number of active subscriptions for a conversation.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}

func (b *Broker) snapshot() []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var all []*subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	return all
}

func (b *Broker) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.conversationID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.conversationID)
		}
	}
}

type subscription struct {
	broker         *Broker
	conversationID string
	events         chan *domain.Message
	done           chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) Events() <-chan *domain.Message { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

// end detaches the subscription before closing its channel; Publish only
// sends while holding the read lock, so no send can race the close.
func (s *subscription) end(err error) {
	s.once.Do(func() {
		s.broker.remove(s)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		close(s.events)
		metrics.FeedSubscribers.Dec()
	})
}
