package chatsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/metrics"
)

// State of a conversation view.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// View is the live, ordered message list of one conversation within a
// session. It owns exactly one feed subscription while loading or live.
type View struct {
	session        *Session
	conversationID string
	log            zerolog.Logger

	mu    sync.Mutex
	state State
	err   error
	tl    *Timeline
	sub   domain.Subscription

	ctx     context.Context
	cancel  context.CancelFunc
	changed chan struct{}
	ready   chan struct{}
	wg      sync.WaitGroup
}

func newView(s *Session, conversationID string) *View {
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		session:        s,
		conversationID: conversationID,
		log:            s.log.With().Str("conversation_id", conversationID).Logger(),
		tl:             NewTimeline(),
		ctx:            ctx,
		cancel:         cancel,
		changed:        make(chan struct{}, 1),
		ready:          make(chan struct{}),
	}
}

func (v *View) ConversationID() string { return v.conversationID }

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err is the error that moved the view into StateError.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Messages returns the merged confirmed and provisional entries. In
// StateError it keeps returning the last known entries.
func (v *View) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tl.Entries()
}

// Changed signals after the entries or the state changed. Signals coalesce:
// one receive may stand for several changes.
func (v *View) Changed() <-chan struct{} {
	return v.changed
}

// load moves the view from Idle through Loading to Live. The feed is
// attached before the history is fetched; both are merged by message id,
// so a message written in between is neither lost nor duplicated.
func (v *View) load(ctx context.Context) error {
	defer close(v.ready)
	v.transition(StateLoading)

	if err := v.session.authorize(ctx, v.conversationID); err != nil {
		v.fail(err)
		return err
	}

	sub, err := v.subscribe(ctx)
	if err != nil {
		v.fail(err)
		return err
	}
	if !v.attach(sub, true) {
		return domain.ErrViewClosed
	}
	go v.consume(sub)

	if err := v.refetch(ctx); err != nil {
		v.fail(err)
		return err
	}

	v.mu.Lock()
	if v.state != StateLoading {
		err := v.err
		if v.state == StateClosed {
			err = domain.ErrViewClosed
		}
		v.mu.Unlock()
		return err
	}
	v.setStateLocked(StateLive)
	v.mu.Unlock()
	v.notify()
	return nil
}

func (v *View) subscribe(ctx context.Context) (domain.Subscription, error) {
	var sub domain.Subscription
	err := v.session.retry(ctx, func(ctx context.Context) error {
		var err error
		sub, err = v.attachFeed(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// attachFeed subscribes for the lifetime of the view. The handshake itself
// gives up after FetchTimeout or when ctx ends.
func (v *View) attachFeed(ctx context.Context) (domain.Subscription, error) {
	subCtx, cancel := context.WithCancel(v.ctx)
	timer := time.AfterFunc(v.session.cfg.FetchTimeout, cancel)
	stop := context.AfterFunc(ctx, cancel)

	sub, err := v.session.backend.Subscribe(subCtx, v.session.caller, v.conversationID)
	timedOut := !timer.Stop()
	abandoned := !stop()
	if err == nil && (timedOut || abandoned) {
		_ = sub.Close()
		err = context.Canceled
	}
	if err != nil {
		cancel()
		switch {
		case timedOut:
			return nil, fmt.Errorf("attach feed: %w", domain.ErrTimeout)
		case abandoned:
			return nil, domain.Deadline(ctx.Err())
		}
		return nil, err
	}
	return &boundSub{Subscription: sub, cancel: cancel}, nil
}

// boundSub releases the attach context together with the subscription.
type boundSub struct {
	domain.Subscription
	cancel context.CancelFunc
}

func (b *boundSub) Close() error {
	err := b.Subscription.Close()
	b.cancel()
	return err
}

// attach installs sub as the view's subscription unless the view is already
// closed, in which case sub is released.
func (v *View) attach(sub domain.Subscription, first bool) bool {
	v.mu.Lock()
	if v.state == StateClosed || v.state == StateError {
		v.mu.Unlock()
		_ = sub.Close()
		return false
	}
	v.sub = sub
	if first {
		v.wg.Add(1)
	}
	v.mu.Unlock()
	return true
}

func (v *View) refetch(ctx context.Context) error {
	return v.session.retry(ctx, func(ctx context.Context) error {
		fctx, cancel := context.WithTimeout(ctx, v.session.cfg.FetchTimeout)
		defer cancel()

		ms, err := v.session.backend.History(fctx, v.session.caller, v.conversationID)
		if err != nil {
			return domain.Deadline(err)
		}
		v.mu.Lock()
		changed := v.state != StateClosed && v.tl.MergeAll(ms)
		v.mu.Unlock()
		if changed {
			v.notify()
		}
		return nil
	})
}

func (v *View) consume(sub domain.Subscription) {
	defer v.wg.Done()
	for {
		select {
		case <-v.ctx.Done():
			return
		case m, ok := <-sub.Events():
			if !ok {
				if v.ctx.Err() != nil {
					return
				}
				next, err := v.resubscribe(sub.Err())
				if err != nil {
					v.fail(err)
					return
				}
				if next == nil {
					return
				}
				sub = next
				continue
			}
			v.apply(m)
		}
	}
}

// resubscribe replaces a dropped feed and refetches to repair the gap.
func (v *View) resubscribe(cause error) (domain.Subscription, error) {
	v.log.Warn().Err(cause).Msg("feed dropped, resubscribing")
	sub, err := v.subscribe(v.ctx)
	if err != nil {
		return nil, err
	}
	if !v.attach(sub, false) {
		return nil, nil
	}
	if err := v.refetch(v.ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

func (v *View) apply(m *domain.Message) {
	if m == nil || m.ConversationID != v.conversationID {
		return
	}
	v.mu.Lock()
	changed := v.state != StateClosed && v.tl.Upsert(m)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

// Close detaches the feed and discards provisional entries. It returns once
// the subscription is released. Closing twice is a no-op.
func (v *View) Close() error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return nil
	}
	v.setStateLocked(StateClosed)
	v.tl.DropProvisional()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	// Forget first so an Open racing with the teardown loads a fresh view.
	v.session.forget(v)
	v.cancel()
	if sub != nil {
		_ = sub.Close()
	}
	v.wg.Wait()
	v.notify()
	return nil
}

func (v *View) fail(err error) {
	v.mu.Lock()
	if v.state == StateClosed || v.state == StateError {
		v.mu.Unlock()
		return
	}
	v.setStateLocked(StateError)
	v.err = err
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.log.Warn().Err(err).Msg("conversation view failed")
	v.cancel()
	if sub != nil {
		_ = sub.Close()
	}
	v.session.forget(v)
	v.notify()
}

func (v *View) transition(s State) {
	v.mu.Lock()
	v.setStateLocked(s)
	v.mu.Unlock()
	v.notify()
}

func (v *View) setStateLocked(s State) {
	if v.state == s {
		return
	}
	v.state = s
	metrics.ViewTransitions.WithLabelValues(s.String()).Inc()
}

func (v *View) notify() {
	select {
	case v.changed <- struct{}{}:
	default:
	}
}

// openLocked reports whether provisional state may still be mutated.
func (v *View) openLocked() bool {
	return v.state != StateClosed && v.state != StateError
}

func (v *View) addProvisional(e Entry) bool {
	v.mu.Lock()
	ok := v.openLocked()
	if ok {
		v.tl.AddProvisional(e)
	}
	v.mu.Unlock()
	if ok {
		v.notify()
	}
	return ok
}

// confirm is a no-op on a closed view: the record reaches a reopened view
// through its own fetch.
func (v *View) confirm(localID string, m *domain.Message) {
	v.mu.Lock()
	changed := v.openLocked() && v.tl.Confirm(localID, m)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

func (v *View) failProvisional(localID string, err error) {
	v.mu.Lock()
	changed := v.openLocked() && v.tl.Fail(localID, err)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

func (v *View) retryProvisional(localID string) (Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.openLocked() {
		return Entry{}, domain.ErrViewClosed
	}
	e, ok := v.tl.Provisional(localID)
	if !ok {
		return Entry{}, domain.ErrNotFound
	}
	if e.Status != Failed {
		return Entry{}, domain.ErrInvalidInput
	}
	e, _ = v.tl.MarkPending(localID)
	return e, nil
}

func (v *View) discard(localID string) bool {
	v.mu.Lock()
	changed := v.openLocked() && v.tl.Remove(localID)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
	return changed
}
