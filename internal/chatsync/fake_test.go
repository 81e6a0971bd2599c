package chatsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/feed"
)

// fakeBackend is an in-memory server: a membership table, a message list
// and an in-process broker for the feed.
type fakeBackend struct {
	mu       sync.Mutex
	members  map[string]map[string]bool
	messages map[string][]*domain.Message
	nextID   int64
	clock    time.Time

	broker *feed.Broker

	// hooks, all optional
	historyErrs   []error
	onAuthorize   func(ctx context.Context) error
	onHistory     func(ctx context.Context) error
	onSend        func(ctx context.Context, m *domain.Message) error
	onSubscribe   func(ctx context.Context) error
	onUnsubscribe func()

	historyCalls   int
	sendCalls      int
	subscribeCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		members:  make(map[string]map[string]bool),
		messages: make(map[string][]*domain.Message),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		broker:   feed.NewBroker(zerolog.Nop(), 16),
	}
}

func (f *fakeBackend) join(conversationID string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[conversationID] == nil {
		f.members[conversationID] = make(map[string]bool)
	}
	for _, u := range users {
		f.members[conversationID][u] = true
	}
}

// insert stores a message without publishing it.
func (f *fakeBackend) insert(conversationID, senderID, body string) *domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertLocked(conversationID, senderID, domain.Draft{Body: body, Kind: domain.KindText})
}

func (f *fakeBackend) insertLocked(conversationID, senderID string, d domain.Draft) *domain.Message {
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	m := d.Message(conversationID, senderID)
	m.ID = f.nextID
	m.CreatedAt = f.clock
	m.Sender = callerFor(senderID).Profile.AsSender()
	f.messages[conversationID] = append(f.messages[conversationID], m)
	return m
}

// write stores and publishes, like the notifying repository.
func (f *fakeBackend) write(conversationID, senderID, body string) *domain.Message {
	m := f.insert(conversationID, senderID, body)
	_ = f.broker.Publish(context.Background(), m)
	return m
}

func (f *fakeBackend) Authorize(ctx context.Context, caller domain.Caller, conversationID string) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	f.mu.Lock()
	member := f.members[conversationID][caller.UserID]
	hook := f.onAuthorize
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if !member {
		return domain.ErrForbidden
	}
	return nil
}

// setHooks swaps hooks under the lock for tests that change them while a
// view is live.
func (f *fakeBackend) setHooks(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// blockUntilDone stands in for a backend that never answers.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeBackend) History(ctx context.Context, caller domain.Caller, conversationID string) ([]*domain.Message, error) {
	if err := f.Authorize(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.historyCalls++
	var injected error
	if len(f.historyErrs) > 0 {
		injected = f.historyErrs[0]
		f.historyErrs = f.historyErrs[1:]
	}
	hook := f.onHistory
	f.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Message, len(f.messages[conversationID]))
	copy(out, f.messages[conversationID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f *fakeBackend) Send(ctx context.Context, caller domain.Caller, conversationID string, d domain.Draft) (*domain.Message, error) {
	if err := f.Authorize(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.sendCalls++
	hook := f.onSend
	m := f.insertLocked(conversationID, caller.UserID, d)
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, m); err != nil {
			f.remove(m)
			return nil, err
		}
	}
	_ = f.broker.Publish(ctx, m)
	return m, nil
}

func (f *fakeBackend) remove(m *domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.messages[m.ConversationID]
	for i, x := range list {
		if x.ID == m.ID {
			f.messages[m.ConversationID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (f *fakeBackend) Subscribe(ctx context.Context, caller domain.Caller, conversationID string) (domain.Subscription, error) {
	if err := f.Authorize(ctx, caller, conversationID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.subscribeCalls++
	hook, onClose := f.onSubscribe, f.onUnsubscribe
	f.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	sub, err := f.broker.Subscribe(ctx, conversationID)
	if err != nil || onClose == nil {
		return sub, err
	}
	return &fakeSub{Subscription: sub, onClose: onClose}, nil
}

type fakeSub struct {
	domain.Subscription
	onClose func()
}

func (s *fakeSub) Close() error {
	s.onClose()
	return s.Subscription.Close()
}

func (f *fakeBackend) counts() (history, send, subscribe int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls, f.sendCalls, f.subscribeCalls
}

var _ Backend = (*fakeBackend)(nil)
