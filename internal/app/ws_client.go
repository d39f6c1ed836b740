package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	maxMessageSize = 512
	sendBufferSize = 256
)

// Client is one websocket connection on the live feed.
type Client struct {
	ID   string
	conn *websocket.Conn
	Send chan Message

	hub    *Hub
	logger *zap.Logger

	connectedAt  time.Time
	messagesSent int64
	closed       bool
	mu           sync.Mutex
}

func NewClient(conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:          uuid.NewString(),
		conn:        conn,
		Send:        make(chan Message, sendBufferSize),
		hub:         hub,
		logger:      logger,
		connectedAt: time.Now(),
	}
}

// clientMessage is what a dashboard may send; only heartbeats are understood.
type clientMessage struct {
	Type string `json:"type"`
}

// ReadPump reads client frames until the connection drops, then unregisters.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket closed unexpectedly", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case MessageHeartbeat:
			c.TrySend(Message{Type: MessageHeartbeat, Payload: c.stats(), Timestamp: time.Now()})
		default:
			c.TrySend(Message{
				Type:      MessageError,
				Payload:   map[string]string{"error": "unknown message type: " + msg.Type},
				Timestamp: time.Now(),
			})
		}
	}
}

// WritePump writes queued messages and keepalive pings.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
			c.mu.Lock()
			c.messagesSent++
			c.mu.Unlock()

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues msg without blocking and reports whether it fit. A closed
// client never accepts.
func (c *Client) TrySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// close ends the send queue; WritePump then sends a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) stats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"client_id":     c.ID,
		"connected_at":  c.connectedAt,
		"messages_sent": c.messagesSent,
	}
}
