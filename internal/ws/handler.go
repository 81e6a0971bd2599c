package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pairchat/internal/chatsync"
	"pairchat/internal/domain"
	"pairchat/internal/httpserver"
)

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimRight(strings.TrimSpace(strings.ToLower(origin)), "/")
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin admits configured browser origins. Requests without an
// Origin header come from non-browser clients and are admitted; they still
// need a bearer token.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, allowAll := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || allowAll {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}

// Relay serves GET /ws?conversation_id=: a guarded live feed of one
// conversation. The feed is attached before the upgrade completes, so a
// client that fetches history after connecting misses nothing.
type Relay struct {
	backend      chatsync.Backend
	hub          *Hub
	checkOrigin  func(*http.Request) bool
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	log          zerolog.Logger
}

func NewRelay(backend chatsync.Backend, hub *Hub, allowedOrigins []string, writeTimeout time.Duration, log zerolog.Logger) *Relay {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Relay{
		backend:     backend,
		hub:         hub,
		checkOrigin: checkOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
			Subprotocols:    []string{"bearer"},
		},
		writeTimeout: writeTimeout,
		log:          log.With().Str("component", "ws").Logger(),
	}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !rl.checkOrigin(r) {
		rl.reject(w, fmt.Errorf("origin not allowed: %w", domain.ErrForbidden))
		return
	}
	caller := domain.CallerFrom(r.Context())
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conversationID == "" {
		rl.reject(w, fmt.Errorf("conversation_id is required: %w", domain.ErrInvalidInput))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := rl.backend.Subscribe(ctx, caller, conversationID)
	if err != nil {
		rl.reject(w, err)
		return
	}
	defer sub.Close()

	socket, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := newConn(caller.UserID, conversationID, socket)
	log := rl.log.With().
		Str("conn_id", conn.ID).
		Str("user_id", caller.UserID).
		Str("conversation_id", conversationID).
		Logger()
	rl.hub.Register(conn)
	conn.Start()
	defer func() {
		rl.hub.Unregister(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()
	log.Debug().Msg("feed attached")

	go rl.pump(ctx, conn, sub, log)
	rl.readLoop(ctx, conn, socket, caller, conversationID, log)
}

// pump forwards feed events. A feed that ends while the client is still
// connected closes the socket with CloseFeedReset.
func (rl *Relay) pump(ctx context.Context, conn *Conn, sub domain.Subscription, log zerolog.Logger) {
	for {
		select {
		case <-conn.Done():
			return
		case m, ok := <-sub.Events():
			if !ok {
				if ctx.Err() == nil {
					log.Warn().Err(sub.Err()).Msg("feed ended, asking client to resubscribe")
					conn.Close(CloseFeedReset, domain.Code(sub.Err()))
				}
				return
			}
			if err := conn.Send(Frame{Type: FrameMessage, Message: m}); err != nil {
				log.Debug().Err(err).Msg("dropping feed event")
				return
			}
		}
	}
}

func (rl *Relay) readLoop(ctx context.Context, conn *Conn, socket *websocket.Conn, caller domain.Caller, conversationID string, log zerolog.Logger) {
	socket.SetReadLimit(maxReadSize)
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			_ = conn.Send(ErrorFrame("", fmt.Errorf("malformed frame: %w", domain.ErrInvalidInput)))
			continue
		}
		switch f.Type {
		case FrameMessage:
			wctx, cancel := context.WithTimeout(ctx, rl.writeTimeout)
			m, err := rl.backend.Send(wctx, caller, conversationID, f.Draft())
			cancel()
			if err != nil {
				_ = conn.Send(ErrorFrame(f.LocalID, domain.Deadline(err)))
				continue
			}
			_ = conn.Send(Frame{Type: FrameAck, LocalID: f.LocalID, Message: m})
		default:
			_ = conn.Send(ErrorFrame(f.LocalID, fmt.Errorf("unknown frame type %q: %w", f.Type, domain.ErrInvalidInput)))
		}
	}
}

func (rl *Relay) reject(w http.ResponseWriter, err error) {
	status := httpserver.StatusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": domain.Code(err)})
}
