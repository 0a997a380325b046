// Package ws streams analysis updates from the signal bus to WebSocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Filter narrows the updates a client receives. Zero values match
// everything.
type Filter struct {
	AppID           int64
	Currency        domain.Currency
	RecommendedOnly bool
}

// Match reports whether res passes the filter.
func (f Filter) Match(res domain.AnalyzeResult) bool {
	if f.AppID != 0 && res.Identity.AppID != f.AppID {
		return false
	}
	if f.Currency != 0 && res.Identity.Currency != f.Currency {
		return false
	}
	return !f.RecommendedOnly || res.Recommended
}

// ParseFilter reads app_id, currency and recommended from the query string.
func ParseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter
	if v := q.Get("app_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid app_id %q", v)
		}
		f.AppID = n
	}
	if v := q.Get("currency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid currency %q", v)
		}
		f.Currency = domain.Currency(n)
	}
	f.RecommendedOnly = q.Get("recommended") == "true" || q.Get("recommended") == "1"
	return f, nil
}

// envelope is the frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter Filter
}

// Hub fans ChannelAnalysis messages out to connected clients.
type Hub struct {
	bus       domain.SignalBus
	mode      string
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("component", "ws")),
		clients:   make(map[*client]struct{}),
	}
}

// Run subscribes to the analysis channel and broadcasts until ctx is done,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.ChannelAnalysis)
	if err != nil {
		return fmt.Errorf("ws: subscribe: %w", err)
	}
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("ws: subscription to %s closed", domain.ChannelAnalysis)
			}
			h.broadcast(ctx, data)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context, data []byte) {
	var res domain.AnalyzeResult
	if err := json.Unmarshal(data, &res); err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable analysis message", slog.String("error", err.Error()))
		return
	}
	frame, err := json.Marshal(envelope{Type: "analysis", Payload: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.filter.Match(res) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.WarnContext(ctx, "dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades GET /ws?app_id=&currency=&recommended= and registers the
// connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), filter: filter}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	c.send <- h.hello()
	h.logger.Info("client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("client disconnected", slog.Int("clients", len(h.clients)))
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

func (h *Hub) hello() []byte {
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
	frame, _ := json.Marshal(envelope{Type: "hello", Payload: payload})
	return frame
}

// readPump discards client frames and keeps the read deadline fresh.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
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
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (c *client) writePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
