// Package ws broadcasts scheduler updates to WebSocket clients.
package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/millrun/millrun/pkg/sched"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback by default; remote deployments sit
	// behind a reverse proxy that enforces origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is the JSON message sent to clients for every scheduler update.
type Frame struct {
	Kind string `json:"kind"`
	Job  any    `json:"job,omitempty"`
}

// client owns the single writer goroutine for one connection. Gorilla
// connections do not support concurrent writes, so all frames funnel
// through send.
type client struct {
	conn *websocket.Conn
	send chan Frame
}

// Hub tracks connected WebSocket clients and fans scheduler updates out to
// them. Safe for concurrent use. All sends to client queues happen under the
// hub mutex, so a queue is never written after remove closes it.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Handler returns the HTTP handler that upgrades GET /api/v1/events
// connections and registers them with the hub.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().
				Str("component", "ws").
				Err(err).
				Msg("WebSocket upgrade failed")
			return
		}
		h.add(conn)
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan Frame, 32)}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	log.Debug().
		Str("component", "ws").
		Int("clients", total).
		Msg("WebSocket client connected")

	go h.writeLoop(c)

	// Drain reads until the peer closes, then drop the client.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) writeLoop(c *client) {
	for frame := range c.send {
		if err := c.conn.WriteJSON(frame); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.Close()
}

// remove drops the client and closes its queue, ending the write loop. Safe
// to call more than once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()
	_ = c.conn.Close()

	log.Debug().
		Str("component", "ws").
		Int("clients", total).
		Msg("WebSocket client disconnected")
}

// Notify implements the scheduler's notifier hook. It runs on the scheduler
// loop, so frames are handed to per-client queues without blocking. A client
// that falls 32 frames behind is disconnected.
func (h *Hub) Notify(u sched.Update) {
	frame := Frame{Kind: string(u.Kind), Job: u.Job}

	h.mu.Lock()
	var stale []*client
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.remove(c)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
