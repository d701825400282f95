// Package ws pushes flush notifications to dashboard websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Frame is the envelope of every message sent to clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans payloads out to every connected client. Slow clients lose
// messages rather than stall the hub.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	status  func() any
	backlog BacklogFunc
	closed  bool
	logger  *slog.Logger
}

// BacklogFunc returns recent flush payloads, oldest first, for replay to a
// newly connected client.
type BacklogFunc func(ctx context.Context) ([][]byte, error)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub. status, if non-nil, supplies the payload of the
// "status" frame sent to each client on connect.
func NewHub(status func() any, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		status:  status,
		logger:  logger.With(slog.String("component", "ws_hub")),
	}
}

// SetBacklog installs the source of flush frames replayed after the status
// frame on connect. At most sendBufferSize-1 payloads are replayed.
func (h *Hub) SetBacklog(fn BacklogFunc) { h.backlog = fn }

// Run broadcasts every payload from source as a "flush" frame until ctx is
// done or source closes, then disconnects all clients. A nil source just
// waits for ctx.
func (h *Hub) Run(ctx context.Context, source <-chan []byte) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-source:
			if !ok {
				return nil
			}
			h.Broadcast("flush", data)
		}
	}
}

// Broadcast sends one frame to every client. payload must be valid JSON.
func (h *Hub) Broadcast(kind string, payload []byte) {
	msg, err := json.Marshal(Frame{Type: kind, Payload: payload})
	if err != nil {
		h.logger.Warn("drop invalid payload", slog.String("type", kind), slog.String("error", err.Error()))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	// Initial frames are queued before the client is visible to closeAll.
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	for _, msg := range h.greeting(r.Context()) {
		c.send <- msg
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("clients", n))

	go h.writePump(c)
	go h.readPump(c)
}

// greeting builds the status frame and the backlog of flush frames.
func (h *Hub) greeting(ctx context.Context) [][]byte {
	var out [][]byte
	if h.status != nil {
		if msg, err := encodeFrame("status", h.status()); err == nil {
			out = append(out, msg)
		}
	}
	if h.backlog == nil {
		return out
	}
	payloads, err := h.backlog(ctx)
	if err != nil {
		h.logger.Warn("backlog unavailable", slog.String("error", err.Error()))
		return out
	}
	if limit := sendBufferSize - len(out); len(payloads) > limit {
		payloads = payloads[len(payloads)-limit:]
	}
	for _, p := range payloads {
		if msg, err := json.Marshal(Frame{Type: "flush", Payload: p}); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func encodeFrame(kind string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: kind, Payload: payload})
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("client disconnected", slog.Int("clients", n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
