package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBuffer  = 128
	maxReadSize = 1 << 20
)

var errConnClosed = errors.New("connection closed")

// Conn wraps a websocket and serializes outbound writes through a buffered
// channel drained by a single write loop.
type Conn struct {
	ID             string
	UserID         string
	ConversationID string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(userID, conversationID string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		ws:             ws,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *Conn) Start() {
	go c.writeLoop()
}

// Send enqueues f. A client too slow to drain its buffer is disconnected.
func (c *Conn) Send(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close sends a close frame and tears the socket down. Later calls are
// no-ops.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
