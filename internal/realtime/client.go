// internal/realtime/client.go
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/campustrack/tracker/pkg/streaming"
)

const (
	sendChSize   = 1024
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// EnvelopeFunc receives every non-ack envelope read from the server.
type EnvelopeFunc func(env streaming.Envelope)

// Client manages a WebSocket connection to the realtime hub with a single
// write goroutine. It reconnects with capped backoff and replays active
// channel subscriptions after each reconnect.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	// reconnecting dedupes reconnect runs when the read and write
	// loops fail at the same time.
	reconnecting bool

	wsURL string

	// Subscriptions replayed after reconnect, keyed by channel.
	subscriptions map[string][]byte

	onEnvelope EnvelopeFunc

	logger *slog.Logger
}

// NewClient creates a disconnected client. Call Dial to connect.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		sendCh:        make(chan []byte, sendChSize),
		ackCh:         make(chan streaming.AckMessage, ackChSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string][]byte),
		logger:        logger,
	}
}

// OnEnvelope sets the handler for incoming envelopes. Must be called
// before Dial.
func (c *Client) OnEnvelope(fn EnvelopeFunc) {
	c.onEnvelope = fn
}

// Dial connects to the hub and starts the read/write loops.
func (c *Client) Dial(rawURL string) error {
	c.wsURL = rawURL

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	return nil
}

func (c *Client) dialOnce() (*ws.Conn, error) {
	conn, _, err := ws.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Subscribe joins a channel and blocks until the hub acknowledges. The
// subscription is cached for replay after reconnects.
func (c *Client) Subscribe(channel string) error {
	data, err := json.Marshal(streaming.Envelope{
		Type:    streaming.TypeSubscribe,
		Channel: channel,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subscriptions[channel] = data
	c.mu.Unlock()

	return c.sendAndWait(data, streaming.TypeSubscribe, ackTimeout)
}

// Unsubscribe leaves a channel and drops it from the replay set.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.subscriptions, channel)
	c.mu.Unlock()

	data, err := json.Marshal(streaming.Envelope{
		Type:    streaming.TypeUnsubscribe,
		Channel: channel,
	})
	if err != nil {
		return err
	}
	return c.sendAndWait(data, streaming.TypeUnsubscribe, ackTimeout)
}

// Broadcast publishes a payload on a channel, fire-and-forget.
func (c *Client) Broadcast(msgType, channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{
		Type:    msgType,
		Channel: channel,
		Payload: raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	c.send(data)
	return nil
}

// writeLoop drains sendCh and writes messages to the WebSocket.
// Only one writeLoop runs at a time; it returns on error or shutdown.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect()
				return
			}
		}
	}
}

// readLoop reads envelopes from the hub, routing acks to ackCh and
// everything else to the envelope handler.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect()
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err == nil && ack.Type == streaming.TypeAck {
			select {
			case c.ackCh <- ack:
			default:
				c.logger.Debug("Ack channel full, dropping", "for", ack.For)
			}
			continue
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Unparseable message received", "raw", string(message))
			continue
		}

		if c.onEnvelope != nil {
			c.onEnvelope(env)
		}
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. On success it replays all cached subscriptions and restarts
// the read/write loops.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		default:
		}

		c.logger.Info("Reconnecting to realtime hub", "attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.reconnecting = false
		cached := make([][]byte, 0, len(c.subscriptions))
		for _, data := range c.subscriptions {
			cached = append(cached, data)
		}
		c.mu.Unlock()

		// Replay subscriptions so the hub restores our channels.
		replayFailed := false
		for _, data := range cached {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				replayFailed = true
				break
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				replayFailed = true
				break
			}
		}
		if replayFailed {
			c.logger.Warn("Failed to replay subscriptions after reconnect")
			_ = conn.Close()
			continue
		}

		c.logger.Info("Realtime hub reconnected", "attempt", attempt)
		go c.writeLoop()
		go c.readLoop()
		return
	}

	c.logger.Error("Reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *Client) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("Send channel full, dropping message")
	}
}

// sendAndWait sends data and blocks until the hub acknowledges with a
// matching ack message or the timeout expires.
func (c *Client) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
			// Not our ack, keep waiting.
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// Close sends a WebSocket close frame and shuts down all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
