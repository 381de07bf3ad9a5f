package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/core/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool; every page served from any dev origin may join.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HubConfig bounds the relay.
type HubConfig struct {
	MaxClients     int
	MaxMessageSize int64
	WriteTimeout   time.Duration
}

type relayClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *relayClient) send(frame []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Hub relays storage changes: every change a client sends is forwarded to
// all other connected clients.
type Hub struct {
	config HubConfig
	logger log.Log

	mu       sync.Mutex
	clients  map[string]*relayClient
	reserved int // slots held by upgrades in flight
}

func NewHub(config HubConfig, logger log.Log) *Hub {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		config:  config,
		logger:  logger.With(log.String("component", "relay")),
		clients: make(map[string]*relayClient),
	}
}

// ClientCount reports connected relay clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.reserve() {
		h.logger.Warn("Relay full, rejecting client", log.Error(ErrMaxClientsReached))
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.mu.Lock()
		h.reserved--
		h.mu.Unlock()
		h.logger.Warn("Relay upgrade failed", log.Error(err))
		return
	}
	if h.config.MaxMessageSize > 0 {
		conn.SetReadLimit(h.config.MaxMessageSize)
	}

	client := &relayClient{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.reserved--
	h.clients[client.id] = client
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("Relay client connected",
		log.String("client_id", client.id),
		log.String("remote", conn.RemoteAddr().String()),
		log.Int("clients", count))

	h.readLoop(client)
}

// reserve claims a client slot, counting upgrades still in flight.
func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config.MaxClients > 0 && len(h.clients)+h.reserved >= h.config.MaxClients {
		return false
	}
	h.reserved++
	return true
}

func (h *Hub) readLoop(c *relayClient) {
	defer h.drop(c)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Relay client read failed", log.String("client_id", c.id), log.Error(err))
			}
			return
		}

		var change storage.Change
		if err := json.Unmarshal(frame, &change); err != nil || change.Key == "" {
			h.logger.Warn("Dropping malformed relay frame", log.String("client_id", c.id))
			continue
		}
		h.broadcast(c.id, frame)
	}
}

func (h *Hub) broadcast(from string, frame []byte) {
	h.mu.Lock()
	targets := make([]*relayClient, 0, len(h.clients))
	for id, c := range h.clients {
		if id != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(frame, h.config.WriteTimeout); err != nil {
			h.logger.Warn("Relay write failed", log.String("client_id", c.id), log.Error(err))
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) drop(c *relayClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	_ = c.conn.Close()
	h.logger.Info("Relay client disconnected", log.String("client_id", c.id))
}

// Close disconnects every client. The hub keeps accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*relayClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}
