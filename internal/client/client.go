// Package client talks to a pairchat server over HTTP and WebSocket. It
// implements chatsync.Backend so a session can run against a remote server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairchat/internal/chatsync"
	"pairchat/internal/domain"
	"pairchat/internal/service"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *resty.Client
	dialer     *websocket.Dialer
	log        zerolog.Logger
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func New(baseURL, token string, log zerolog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "pairchat-client/1.0").
		SetAuthToken(token).
		SetTimeout(30 * time.Second)
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		log: log.With().Str("component", "client").Logger(),
	}
}

var _ chatsync.Backend = (*Client)(nil)

// Me returns the caller's profile, provisioning the user server-side.
func (c *Client) Me(ctx context.Context) (*service.Profile, error) {
	var out service.Profile
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve maps an identifier to a canonical user id.
func (c *Client) Resolve(ctx context.Context, identifier string) (string, error) {
	var out struct {
		UserID string `json:"user_id"`
	}
	path := "/api/users/resolve?identifier=" + url.QueryEscape(identifier)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Locate returns the conversation with the user named by identifier,
// creating it if needed.
func (c *Client) Locate(ctx context.Context, identifier string) (string, bool, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
		Created        bool   `json:"created"`
	}
	body := map[string]string{"identifier": identifier}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return "", false, err
	}
	return out.ConversationID, out.Created, nil
}

// Inbox lists the caller's conversations.
func (c *Client) Inbox(ctx context.Context) ([]service.InboxEntry, error) {
	var out []service.InboxEntry
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Authorize(ctx context.Context, caller domain.Caller, conversationID string) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	return c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID), nil, nil)
}

func (c *Client) History(ctx context.Context, caller domain.Caller, conversationID string) ([]*domain.Message, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	var out []*domain.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Send(ctx context.Context, caller domain.Caller, conversationID string, d domain.Draft) (*domain.Message, error) {
	if !caller.Authenticated() {
		return nil, domain.ErrUnauthenticated
	}
	var out domain.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr apiError
	req := c.httpClient.R().
		SetContext(ctx).
		SetError(&apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Deadline(err)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, domain.ErrTransientStore, err)
	}
	if resp.IsError() {
		return statusError(resp.StatusCode(), apiErr)
	}
	return nil
}

// statusError turns an error response back into its sentinel.
func statusError(status int, apiErr apiError) error {
	var sentinel error
	switch {
	case apiErr.Code != "":
		sentinel = domain.FromCode(apiErr.Code)
	case status == http.StatusUnauthorized:
		sentinel = domain.ErrUnauthenticated
	case status == http.StatusForbidden:
		sentinel = domain.ErrForbidden
	case status == http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case status == http.StatusGatewayTimeout:
		sentinel = domain.ErrTimeout
	case status >= 500:
		sentinel = domain.ErrTransientStore
	default:
		sentinel = domain.ErrInvalidInput
	}
	msg := apiErr.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("server responded %d (%s): %w", status, msg, sentinel)
}
