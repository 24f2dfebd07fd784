package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscribeRequest is the only inbound message type clients send.
type subscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

type subscribeAck struct {
	Type      string   `json:"type"`
	Channels  []string `json:"channels"`
	Timestamp string   `json:"timestamp"`
}

type errorReply struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Client is one attached WebSocket subscriber. All writes go through the
// send channel into writePump; readPump owns all reads. The alive flag is
// set by pong frames and consumed by the hub heartbeat.
type Client struct {
	bus    *Bus
	conn   *websocket.Conn
	send   chan []byte
	pingCh chan struct{}
	donech chan struct{}
	once   sync.Once
	remote string

	mu       sync.Mutex
	channels map[string]bool
	alive    bool
}

func newClient(b *Bus, conn *websocket.Conn) *Client {
	return &Client{
		bus:      b,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		pingCh:   make(chan struct{}, 1),
		donech:   make(chan struct{}),
		remote:   conn.RemoteAddr().String(),
		channels: make(map[string]bool),
		alive:    true,
	}
}

// subscribed reports channel membership.
func (c *Client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[channel]
}

// Channels returns a copy of the subscription set.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// swapAlive sets the liveness flag and returns its previous value.
func (c *Client) swapAlive(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.alive
	c.alive = v
	return prev
}

// requestPing asks writePump to emit a ping frame; drops if one is pending.
func (c *Client) requestPing() {
	select {
	case c.pingCh <- struct{}{}:
	default:
	}
}

// close tears the client down exactly once and detaches it from the bus.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.donech)
		c.bus.detach(c)
		c.conn.Close()
		slog.Info("Bus client disconnected", "remote", c.remote)
	})
}

// writePump serializes all writes to the connection: broadcasts, replies,
// and heartbeat pings.
func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain queued messages while we hold the writer.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-c.pingCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.donech:
			return
		}
	}
}

// readPump handles subscribe requests and pong frames. Malformed JSON gets
// an error reply without disconnecting.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetPongHandler(func(string) error {
		c.swapAlive(true)
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Bus client read error", "remote", c.remote, "error", err)
			}
			return
		}

		// Any traffic proves liveness, not just pong frames.
		c.swapAlive(true)

		var req subscribeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			c.reply(errorReply{
				Type:      "error",
				Message:   "malformed JSON: " + err.Error(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			continue
		}

		switch req.Type {
		case "subscribe":
			c.mu.Lock()
			for _, ch := range req.Channels {
				c.channels[ch] = true
			}
			c.mu.Unlock()
			c.reply(subscribeAck{
				Type:      "subscribed",
				Channels:  req.Channels,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		default:
			c.reply(errorReply{
				Type:      "error",
				Message:   "unknown message type: " + req.Type,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}
