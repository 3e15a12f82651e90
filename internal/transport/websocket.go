package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/txbot/pkg/types"
)

const (
	eventBuffer  = 1024
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// Hub fans run and submission events out to WebSocket clients. Publish
// never blocks; events are dropped when the buffer is full.
type Hub struct {
	logger *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	events chan types.Event

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a Hub. Call Start to begin broadcasting.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan types.Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Publish queues an event for every connected client.
func (h *Hub) Publish(event types.Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Debug("live feed buffer full, dropping event", slog.String("type", event.Type))
	}
}

// Handler returns the WebSocket HTTP handler.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		h.clientsMu.Lock()
		h.clients[conn] = true
		total := len(h.clients)
		h.clientsMu.Unlock()

		h.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.clientsMu.Unlock()
			conn.Close()

			h.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read until the client goes away; nothing is expected from it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the broadcasting goroutine.
func (h *Hub) Start() {
	go h.broadcastLoop()
}

// Stop stops broadcasting and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.clientsMu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()
	})
}

func (h *Hub) broadcastLoop() {
	for {
		select {
		case <-h.done:
			return
		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// broadcast sends one event to all connected clients. It is only called
// from the broadcast loop, so writes to a connection never overlap.
func (h *Hub) broadcast(event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Cleaned up by the read loop.
			h.logger.Debug("failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
