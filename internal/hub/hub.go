// Package hub owns the live WebSocket clients of this instance and implements the
// transport-send primitive used by the broadcaster.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/pkg/log"
)

// Config holds WebSocket client settings.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConfig returns the default WebSocket settings.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 8192,
		SendBuffer:     256,
	}
}

type Hub struct {
	clients map[string]*Client // clientID -> client
	mu      sync.RWMutex
	config  Config
}

func NewHub(cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Hub{
		clients: make(map[string]*Client),
		config:  cfg,
	}
}

// Config returns the hub's client settings.
func (h *Hub) Config() Config {
	return h.config
}

func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		return fmt.Errorf("register client %s: %w", client.ID, domain.ErrDuplicateConnection)
	}
	h.clients[client.ID] = client
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Str(log.FieldUserID, client.UserID).Msg("client registered")
	return nil
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if existing, ok := h.clients[client.ID]; ok && existing == client {
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()
	client.Close()
	l := log.L()
	l.Debug().Str(log.FieldConnectionID, client.ID).Msg("client unregistered")
}

// Client returns a registered client.
func (h *Hub) Client(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send enqueues a frame on a client's send queue. It waits for queue space until ctx
// is done, so frames for one client keep the order in which Send was called.
func (h *Hub) Send(ctx context.Context, connectionID, event string, frame []byte) error {
	c, ok := h.Client(connectionID)
	if !ok {
		return fmt.Errorf("send %s to %s: %w", event, connectionID, domain.ErrUnknownConnection)
	}
	return c.enqueue(ctx, frame)
}

// Stop closes every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
