package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// HubConfig configures WebSocket connection handling.
type HubConfig struct {
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	PongTimeout  time.Duration `env:"PONG_TIMEOUT" envDefault:"60s"`
	SendBuffer   int           `env:"SEND_BUFFER" envDefault:"16"`
	ReadLimit    int64         `env:"READ_LIMIT" envDefault:"512"`
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		SendBuffer:   16,
		ReadLimit:    512,
	}
}

// Envelope is the frame written to WebSocket clients.
type Envelope struct {
	Type         string               `json:"type"`
	Notification notification.Payload `json:"notification"`
}

// Hub delivers payloads to users connected over WebSocket. A user may hold
// several connections; each gets its own copy.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

type HubOption func(*Hub)

func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCheckOrigin sets the upgrader origin check. The default accepts only
// same-origin requests.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(cfg HubConfig, opts ...HubOption) *Hub {
	d := DefaultHubConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = d.PongTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = d.SendBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = d.ReadLimit
	}
	h := &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger.Discard(),
		clients: make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send queues p for every connection of userID. It returns ErrNotConnected
// when the user has no connection that accepted the frame.
func (h *Hub) Send(ctx context.Context, userID string, p notification.Payload) error {
	frame, err := json.Marshal(Envelope{Type: "notification", Notification: p})
	if err != nil {
		return fmt.Errorf("%w: encode frame: %w", ErrPermanent, err)
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return fmt.Errorf("%w: %w", ErrTemporary, ErrHubClosed)
	}
	conns := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	accepted := 0
	for _, c := range conns {
		if c.enqueue(frame) {
			accepted++
			continue
		}
		// Slow consumer; drop the connection rather than block delivery.
		h.logger.LogAttrs(ctx, slog.LevelWarn, "websocket client too slow, disconnecting",
			logger.Component("transport"),
			logger.UserID(userID),
		)
		h.remove(c)
	}
	if accepted == 0 {
		return fmt.Errorf("%w: %w", ErrTemporary, ErrNotConnected)
	}
	return nil
}

// ServeWS upgrades the request and serves the connection for userID until
// the client goes away. Authenticating the user is the caller's job.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		return conn.Close()
	}

	h.logger.LogAttrs(r.Context(), slog.LevelDebug, "websocket connected",
		logger.Component("transport"),
		logger.UserID(userID),
	)
	go c.writePump()
	c.readPump()
	h.remove(c)
	return nil
}

// Connected returns the number of open connections for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and rejects further connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.stop()
	}
	return nil
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
	c.stop()
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump discards client frames and keeps the read deadline fresh on
// pongs. It returns when the connection fails.
func (c *client) readPump() {
	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of the connection.
func (c *client) writePump() {
	cfg := c.hub.cfg
	ping := time.NewTicker(cfg.PongTimeout * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.remove(c)
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}
