// Package bus implements the channel-subscription broadcast bus game
// clients attach to over WebSocket. Clients subscribe to named channels;
// publishes are fire-and-forget envelopes fanned out to subscribed, live
// clients. A hub-level heartbeat reaps stale connections within two
// intervals.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Core channel names the coordinator publishes on. Advisory only; any
// string is a valid channel.
const (
	ChannelNPCEvents       = "npc-events"
	ChannelRebellionAlerts = "rebellion-alerts"
	ChannelSimulationTicks = "simulation-ticks"
	ChannelSystemStatus    = "system-status"
	ChannelCognitiveRails  = "cognitive-rails"
	ChannelNPCCommands     = "npc-commands"
)

const (
	// HeartbeatInterval is the reaper period: a client that has not ponged
	// for one full interval is terminated on the next pass.
	HeartbeatInterval = 30 * time.Second

	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Game clients connect from the local simulation host; origin checks
	// are handled by the deployment's reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the wire format of every publish.
type Envelope struct {
	Channel   string      `json:"channel"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Bus owns the client registry and the broadcast fan-out.
type Bus struct {
	mu      sync.Mutex
	clients map[*Client]bool
	port    int

	server    *http.Server
	closeOnce sync.Once
	done      chan struct{}

	heartbeat time.Duration
}

// New creates a bus that will listen on the given port once started.
func New(port int) *Bus {
	return &Bus{
		clients:   make(map[*Client]bool),
		port:      port,
		done:      make(chan struct{}),
		heartbeat: HeartbeatInterval,
	}
}

// Start begins serving WebSocket upgrades and runs the heartbeat reaper.
// It returns once the listener is active; serving continues until Close.
func (b *Bus) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleUpgrade)

	b.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", b.port),
		Handler: mux,
	}

	go func() {
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Bus listener failed", "error", err)
		}
	}()
	go b.heartbeatLoop()

	slog.Info("Subscription bus listening", "port", b.port)
	return nil
}

// handleUpgrade registers a new client with an empty subscription set.
func (b *Bus) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	b.Attach(conn)
}

// Attach wraps an accepted connection in a Client and starts its pumps.
// Exposed so tests and embedded servers can hand the bus raw connections.
func (b *Bus) Attach(conn *websocket.Conn) *Client {
	c := newClient(b, conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	go c.readPump()

	slog.Info("Bus client connected", "remote", conn.RemoteAddr().String())
	return c
}

// Publish fans an envelope out to every live client subscribed to channel.
// Never blocks: clients with full buffers miss the message, clients whose
// transport fails are removed by their own pumps.
func (b *Bus) Publish(channel string, data interface{}) {
	envelope := Envelope{
		Channel:   channel,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		slog.Warn("Bus publish marshal failed", "channel", channel, "error", err)
		return
	}

	for _, c := range b.snapshot() {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow subscriber: drop this message; the heartbeat reaper
			// handles truly dead clients.
		}
	}
}

// ConnectionCount returns the number of attached clients.
func (b *Bus) ConnectionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Port returns the configured listen port.
func (b *Bus) Port() int { return b.port }

// Close terminates every client and stops the listener.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		for _, c := range b.snapshot() {
			c.close()
		}
		if b.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = b.server.Shutdown(ctx)
		}
	})
	return err
}

func (b *Bus) detach(c *Client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

func (b *Bus) snapshot() []*Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

// heartbeatLoop pings every client each interval. A client that never
// ponged since the previous pass is terminated, bounding staleness at two
// intervals.
func (b *Bus) heartbeatLoop() {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, c := range b.snapshot() {
				if !c.swapAlive(false) {
					slog.Info("Reaping stale bus client", "remote", c.remote)
					c.close()
					continue
				}
				c.requestPing()
			}
		case <-b.done:
			return
		}
	}
}
