package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pairchat/internal/domain"
	"pairchat/internal/ws"
)

// Subscribe dials the server's live feed of conversationID. The server
// attaches the feed before completing the handshake.
func (c *Client) Subscribe(ctx context.Context, caller domain.Caller, conversationID string) (domain.Subscription, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"conversation_id": {conversationID}}.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, statusError(resp.StatusCode, apiError{})
		}
		return nil, fmt.Errorf("dial feed: %w: %w", domain.ErrTransientStore, domain.Deadline(err))
	}

	s := &remoteSubscription{
		conn:   conn,
		events: make(chan *domain.Message, 64),
		quit:   make(chan struct{}),
		ended:  make(chan struct{}),
	}
	go s.readLoop(conversationID)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.ended:
		}
	}()
	c.log.Debug().Str("conversation_id", conversationID).Msg("feed attached")
	return s, nil
}

type remoteSubscription struct {
	conn   *websocket.Conn
	events chan *domain.Message
	quit   chan struct{}
	ended  chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *remoteSubscription) Events() <-chan *domain.Message { return s.events }

func (s *remoteSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription; Err stays nil.
func (s *remoteSubscription) Close() error {
	s.once.Do(func() {
		close(s.quit)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

func (s *remoteSubscription) readLoop(conversationID string) {
	defer func() {
		close(s.events)
		close(s.ended)
	}()
	for {
		var f ws.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			select {
			case <-s.quit:
			default:
				s.mu.Lock()
				s.err = feedError(err)
				s.mu.Unlock()
				_ = s.conn.Close()
			}
			return
		}
		if f.Type != ws.FrameMessage || f.Message == nil || f.Message.ConversationID != conversationID {
			continue
		}
		select {
		case s.events <- f.Message:
		case <-s.quit:
			return
		}
	}
}

func feedError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == ws.CloseFeedReset {
			return fmt.Errorf("feed reset (%s): %w", ce.Text, domain.ErrTransientStore)
		}
		return fmt.Errorf("feed closed (%d): %w", ce.Code, domain.ErrTransientStore)
	}
	return fmt.Errorf("feed read: %w: %w", domain.ErrTransientStore, err)
}
