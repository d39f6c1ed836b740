package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message types pushed to websocket clients.
const (
	MessageSnapshot  = "snapshot"
	MessageError     = "error"
	MessageHeartbeat = "heartbeat"
)

// Message is one frame on the live feed.
type Message struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub keeps the connected dashboard clients and fans snapshot updates out to
// them. The last broadcast message is replayed to every new client.
type Hub struct {
	logger *zap.Logger

	clients   map[*Client]bool
	clientsMu sync.RWMutex

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	latest   *Message
	latestMu sync.RWMutex

	totalConnections int64
	totalMessages    int64
	metricsMu        sync.Mutex

	onCount func(int)
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 1000),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// OnClientCount registers a callback invoked with the client count after
// every connect and disconnect. Must be set before Run.
func (h *Hub) OnClientCount(fn func(int)) {
	h.onCount = fn
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// Register adds c. After the hub stops, c is closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	h.latestMu.Lock()
	h.latest = &msg
	h.latestMu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// Latest returns the last broadcast message, if any.
func (h *Hub) Latest() (Message, bool) {
	h.latestMu.RLock()
	defer h.latestMu.RUnlock()
	if h.latest == nil {
		return Message{}, false
	}
	return *h.latest, true
}

func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.metricsMu.Lock()
	h.totalConnections++
	h.metricsMu.Unlock()

	if msg, ok := h.Latest(); ok {
		c.TrySend(msg)
	}

	h.logger.Info("client connected", zap.String("client_id", c.ID), zap.Int("total", count))
	h.notifyCount(count)
}

func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	count := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		h.logger.Info("client disconnected", zap.String("client_id", c.ID), zap.Int("total", count))
		h.notifyCount(count)
	}
}

func (h *Hub) broadcastMessage(msg Message) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	sent, dropped := 0, 0
	for _, c := range clients {
		if c.TrySend(msg) {
			sent++
			continue
		}
		dropped++
		// Too slow to keep up; disconnect.
		go h.Unregister(c)
	}

	if sent > 0 {
		h.metricsMu.Lock()
		h.totalMessages++
		h.metricsMu.Unlock()
	}
	if dropped > 0 {
		h.logger.Warn("dropped slow websocket clients", zap.Int("count", dropped))
	}
}

// HubStats is the hub section of /stats.
type HubStats struct {
	ActiveClients     int   `json:"active_clients"`
	TotalConnections  int64 `json:"total_connections"`
	TotalMessages     int64 `json:"total_messages"`
	BroadcastCapacity int   `json:"broadcast_capacity"`
	BroadcastUsage    int   `json:"broadcast_usage"`
}

func (h *Hub) Stats() HubStats {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubStats{
		ActiveClients:     h.ClientCount(),
		TotalConnections:  h.totalConnections,
		TotalMessages:     h.totalMessages,
		BroadcastCapacity: cap(h.broadcast),
		BroadcastUsage:    len(h.broadcast),
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) notifyCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.logger.Info("shutting down websocket hub", zap.Int("clients", len(h.clients)))
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}
