package chatsync

import (
	"context"
	"fmt"
	"time"

	"pairchat/internal/domain"
)

// SendError reports a failed write together with the local id of the
// provisional entry left behind in the view, for Retry or Discard.
type SendError struct {
	LocalID string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.LocalID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Composer writes messages on behalf of the session's caller. Writes echo
// into the open view as provisional entries and are replaced in place by
// the authoritative record once the store confirms them.
type Composer struct {
	s *Session
}

// Send validates d, echoes it into the conversation's open view and writes
// it. Authorization and validation failures leave no trace in the view; a
// failed write leaves a Failed entry and returns a *SendError.
func (c *Composer) Send(ctx context.Context, conversationID string, d domain.Draft) (*domain.Message, error) {
	s := c.s
	if !s.caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	if err := s.authorize(ctx, conversationID); err != nil {
		return nil, err
	}
	d, err := d.Normalize()
	if err != nil {
		return nil, err
	}

	localID := s.nextLocalID()
	v := s.View(conversationID)
	if v != nil {
		provisional := d.Message(conversationID, s.caller.UserID)
		provisional.CreatedAt = time.Now().UTC()
		provisional.Sender = s.caller.Profile.AsSender()
		v.addProvisional(Entry{
			LocalID: localID,
			Message: *provisional,
			Status:  Pending,
			draft:   d,
		})
	}
	return c.submit(ctx, v, conversationID, localID, d)
}

// Retry resubmits a failed provisional entry. Nothing is resent
// automatically.
func (c *Composer) Retry(ctx context.Context, conversationID, localID string) (*domain.Message, error) {
	s := c.s
	v := s.View(conversationID)
	if v == nil {
		return nil, domain.ErrViewClosed
	}
	if err := s.authorize(ctx, conversationID); err != nil {
		return nil, err
	}
	e, err := v.retryProvisional(localID)
	if err != nil {
		return nil, fmt.Errorf("retry %s: %w", localID, err)
	}
	return c.submit(ctx, v, conversationID, localID, e.draft)
}

// Discard drops a provisional entry from the conversation's view.
func (c *Composer) Discard(conversationID, localID string) error {
	v := c.s.View(conversationID)
	if v == nil {
		return domain.ErrViewClosed
	}
	if !v.discard(localID) {
		return fmt.Errorf("discard %s: %w", localID, domain.ErrNotFound)
	}
	return nil
}

func (c *Composer) submit(ctx context.Context, v *View, conversationID, localID string, d domain.Draft) (*domain.Message, error) {
	s := c.s
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	m, err := s.backend.Send(wctx, s.caller, conversationID, d)
	if err != nil {
		err = domain.Deadline(err)
		if v != nil {
			v.failProvisional(localID, err)
		}
		s.log.Warn().Err(err).Str("local_id", localID).Msg("send failed")
		return nil, &SendError{LocalID: localID, Err: err}
	}
	if v != nil {
		v.confirm(localID, m)
	}
	return m, nil
}
