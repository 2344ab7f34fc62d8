package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, h.cfg.SendBuffer),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// UserID returns the authenticated owner of the socket.
func (c *Client) UserID() string { return c.userID }

// enqueue never blocks; a full buffer drops the payload for this client.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.hub.logger.Warn("realtime send buffer full, dropping event", zap.String("user_id", c.userID))
		return false
	}
}

func (c *Client) sendEvent(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	_ = c.conn.Close()
}

func (c *Client) readPump(ctx context.Context) {
	pongWait := c.hub.cfg.PingInterval * 2
	c.conn.SetReadLimit(c.hub.cfg.MaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		c.hub.handleMessage(ctx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
