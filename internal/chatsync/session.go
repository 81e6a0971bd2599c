package chatsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
)

// Config bounds the network work a session does.
type Config struct {
	FetchTimeout time.Duration
	WriteTimeout time.Duration
	// MaxRetries is how often a failed read or feed attach is retried
	// before the view enters StateError.
	MaxRetries   int
	RetryInitial time.Duration
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 100 * time.Millisecond
	}
	return c
}

// Session is one client's logical actor: a caller, the views it has open and
// the composer writing into them. At most one view per conversation is
// active at a time.
type Session struct {
	id      string
	caller  domain.Caller
	backend Backend
	cfg     Config
	log     zerolog.Logger

	mu    sync.Mutex
	views map[string]*View
	seq   atomic.Uint64
}

func NewSession(caller domain.Caller, backend Backend, cfg Config, log zerolog.Logger) *Session {
	id := ulid.Make().String()
	return &Session{
		id:      id,
		caller:  caller,
		backend: backend,
		cfg:     cfg.withDefaults(),
		log: log.With().
			Str("component", "chatsync").
			Str("session_id", id).
			Str("user_id", caller.UserID).
			Logger(),
		views: make(map[string]*View),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Caller() domain.Caller { return s.caller }

// Open returns the view of conversationID, loading it if this session has
// no active view for it. A failed load returns the view in StateError along
// with the error.
func (s *Session) Open(ctx context.Context, conversationID string) (*View, error) {
	if !s.caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}

	for {
		s.mu.Lock()
		v, ok := s.views[conversationID]
		if !ok {
			break
		}
		s.mu.Unlock()
		select {
		case <-v.ready:
		case <-ctx.Done():
			return nil, domain.Deadline(ctx.Err())
		}
		if v.State() != StateClosed {
			return v, v.Err()
		}
		// Closed but not yet forgotten: drop it and load a fresh view.
		s.forget(v)
	}
	v := newView(s, conversationID)
	s.views[conversationID] = v
	s.mu.Unlock()

	if err := v.load(ctx); err != nil {
		return v, err
	}
	return v, nil
}

// View returns the active view of conversationID, or nil.
func (s *Session) View(conversationID string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[conversationID]
}

// Composer returns the writer bound to this session.
func (s *Session) Composer() *Composer {
	return &Composer{s: s}
}

// Close closes every open view.
func (s *Session) Close() {
	s.mu.Lock()
	views := make([]*View, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.mu.Unlock()

	for _, v := range views {
		_ = v.Close()
	}
}

func (s *Session) forget(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.views[v.conversationID] == v {
		delete(s.views, v.conversationID)
	}
}

// authorize checks the caller's membership within FetchTimeout.
func (s *Session) authorize(ctx context.Context, conversationID string) error {
	actx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	return domain.Deadline(s.backend.Authorize(actx, s.caller, conversationID))
}

func (s *Session) nextLocalID() string {
	return fmt.Sprintf("local-%s-%d", s.id, s.seq.Add(1))
}

// retry runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent.
func (s *Session) retry(ctx context.Context, op func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitial
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.cfg.MaxRetries)), ctx)

	err := backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.log.Debug().Err(err).Dur("retry_in", wait).Msg("retrying")
	})
	return domain.Deadline(err)
}
