package feed

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/derivwatch/internal/dispatch"
	"github.com/rickgao/derivwatch/internal/model"
)

// ErrClosed is returned by ServeHTTP once the hub has been closed.
var ErrClosed = errors.New("feed closed")

// Config holds per-subscriber settings.
type Config struct {
	BufferSize   int           // Queued messages per subscriber
	WriteTimeout time.Duration // Deadline for each write
	PingInterval time.Duration
	PongTimeout  time.Duration // Subscriber is dropped if no pong arrives in time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// Hub fans alert payloads out to connected subscribers.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

// NewHub creates a Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("feed upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := &subscriber{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.BufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.close(websocket.CloseGoingAway)
		return
	}
	h.clients[s] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("feed subscriber connected", "remote", r.RemoteAddr, "subscribers", n)

	go s.writeLoop()
	go s.readLoop()
}

// Publish renders events and queues them for every subscriber.
// A subscriber whose queue is full misses the message.
func (h *Hub) Publish(events []model.AlertEvent) {
	if len(events) == 0 {
		return
	}

	frames := make([][]byte, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(dispatch.NewPayload(dispatch.Format(ev)))
		if err != nil {
			h.logger.Error("marshal feed payload", "event", ev.ID, "err", err)
			continue
		}
		frames = append(frames, data)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		for _, data := range frames {
			select {
			case s.send <- data:
			default:
				h.logger.Warn("feed buffer full, dropping message", "remote", s.conn.RemoteAddr().String())
			}
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber with a normal closure and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		clients = append(clients, s)
	}
	h.clients = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, s := range clients {
		s.close(websocket.CloseNormalClosure)
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.clients[s]
	delete(h.clients, s)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("feed subscriber disconnected", "remote", s.conn.RemoteAddr().String(), "subscribers", n)
	}
}

type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// close sends a close frame and tears down the connection. Safe to call more than once.
func (s *subscriber) close(code int) {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		deadline := time.Now().Add(s.hub.cfg.WriteTimeout)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		s.writeMu.Unlock()

		s.conn.Close()
	})
}

func (s *subscriber) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(s.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.hub.logger.Debug("feed write failed", "err", err)
				s.hub.remove(s)
				s.close(websocket.CloseGoingAway)
				return
			}
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(s.hub.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.hub.logger.Debug("feed ping failed", "err", err)
			}
		}
	}
}

// readLoop discards inbound messages and detects disconnects.
func (s *subscriber) readLoop() {
	defer func() {
		s.hub.remove(s)
		s.close(websocket.CloseNormalClosure)
	}()

	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.PongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.hub.logger.Debug("feed read failed", "err", err)
				}
			}
			return
		}
	}
}
