// internal/realtime/hub.go
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"github.com/campustrack/tracker/pkg/streaming"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 8192
	hubWriteWait   = 10 * time.Second
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one WebSocket connection with its channel subscriptions.
type client struct {
	id       string
	conn     *ws.Conn
	send     chan []byte
	channels map[string]struct{}
	mu       sync.Mutex
}

func (c *client) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
}

func (c *client) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

func (c *client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// Hub manages all subscriber connections and fans envelopes out to the
// per-publisher channels they joined.
type Hub struct {
	clients    map[string]*client
	mu         sync.RWMutex
	register   chan *client
	unregister chan *client

	logger *slog.Logger
}

// NewHub creates a new realtime hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client, 10),
		unregister: make(chan *client, 10),
		logger:     logger,
	}
}

// Run processes client registration until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("Realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
			h.logger.Debug("Client registered", "clientId", c.id)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("Client unregistered", "clientId", c.id)
		}
	}
}

// Publish sends an envelope to every client subscribed to its channel.
func (h *Hub) Publish(env streaming.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.subscribed(env.Channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Client send buffer full, dropping", "clientId", c.id, "channel", env.Channel)
		}
	}
}

// PublishRowChange wraps a row change in an envelope on the publisher's
// channel. Wired to the store's OnChange hook.
func (h *Hub) PublishRowChange(change streaming.RowChangePayload) {
	payload, err := json.Marshal(change)
	if err != nil {
		h.logger.Error("Failed to marshal row change", "error", err)
		return
	}
	h.Publish(streaming.Envelope{
		Type:    streaming.TypeRowChange,
		Channel: streaming.ChannelForPublisher(change.PublisherID),
		Payload: payload,
	})
}

// SubscriberCount returns how many clients currently listen on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.clients {
		if c.subscribed(channel) {
			n++
		}
	}
	return n
}

// ServeWS upgrades an HTTP request and runs the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]struct{}),
	}

	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

// readPump consumes subscribe, unsubscribe and broadcast envelopes.
func (h *Hub) readPump(c *client) {
	defer func() {
		// Non-blocking: the hub may already be shut down.
		select {
		case h.unregister <- c:
		default:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseNormalClosure, ws.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error", "clientId", c.id, "error", err)
			}
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			h.logger.Debug("Unparseable message, ignoring", "clientId", c.id, "raw", string(message))
			continue
		}

		switch env.Type {
		case streaming.TypeSubscribe:
			c.subscribe(env.Channel)
			h.ack(c, streaming.TypeSubscribe)
		case streaming.TypeUnsubscribe:
			c.unsubscribe(env.Channel)
			h.ack(c, streaming.TypeUnsubscribe)
		case streaming.TypeBroadcast, streaming.TypeRowChange, streaming.TypeStopped:
			// Publisher-originated; fan out to channel peers.
			h.Publish(env)
			h.ack(c, env.Type)
		default:
			h.logger.Debug("Unknown message type", "clientId", c.id, "type", env.Type)
		}
	}
}

// ack confirms a processed message back to the sender.
func (h *Hub) ack(c *client, forType string) {
	data, err := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: forType})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump drains the send channel and keeps the connection alive.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(ws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, id)
	}
}
