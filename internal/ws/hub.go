package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks the live connections of each conversation so they can be
// counted and closed on shutdown; hijacked connections are not closed by
// http.Server.Shutdown.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*Conn]struct{}),
	}
}

// Register adds a connection for its conversation.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.ConversationID] == nil {
		h.conns[c.ConversationID] = make(map[*Conn]struct{})
	}
	h.conns[c.ConversationID][c] = struct{}{}
}

// Unregister removes a connection.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[c.ConversationID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, c.ConversationID)
		}
	}
}

// Count returns the live connections of a conversation.
func (h *Hub) Count(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[conversationID])
}

// CloseAll closes every connection with a going-away frame.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Conn
	for _, conns := range h.conns {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}
