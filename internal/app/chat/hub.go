/*
Package chat contains the realtime core: the presence registry, the per-connection
session state machine, the router for private messages and typing indicators, and
the websocket transport that feeds them.

This file defines the Hub, which owns the registry, broadcaster and router and
runs every websocket client to completion.
*/
package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relaychat/internal/configs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

// Store is the persistence the hub needs.
type Store interface {
	MessageStore
	UserDirectory
}

// Hub coordinates all live connections.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	router      *Router

	messageRate  rate.Limit
	messageBurst int

	// ctx is the parent of every per-connection context; cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// mu protects clients and closing.
	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool

	// wg tracks running clients so Shutdown can wait for them.
	wg sync.WaitGroup

	// structured logger with Hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub backed by store.
func NewHub(cfg *configs.AppConfig, store Store) *Hub {
	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry)
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		registry:     registry,
		broadcaster:  broadcaster,
		router:       NewRouter(registry, broadcaster, store, store),
		messageRate:  rate.Limit(cfg.MessageRate),
		messageBurst: cfg.MessageBurst,
		ctx:          ctx,
		cancel:       cancel,
		clients:      make(map[*Client]struct{}),
		logger:       logx.Component("Hub"),
	}
}

// OnlineCount returns the number of authenticated users.
func (h *Hub) OnlineCount() int {
	return h.registry.Len()
}

// IsOnline reports whether userID currently has an open connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// Serve runs an upgraded websocket connection until it closes. It blocks.
func (h *Hub) Serve(wsConn *websocket.Conn, remoteAddr string) {
	id, err := randx.ConnectionID()
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to generate connection id, falling back to uuid")
		id = uuid.NewString()
	}

	client := NewClient(id, wsConn, rate.NewLimiter(h.messageRate, h.messageBurst), remoteAddr)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		client.forceClose()
		return
	}
	h.clients[client] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		h.wg.Done()
	}()

	h.logger.Info().Str("conn_id", id).Msg("WebSocket connection established")

	session := NewConnection(client, h.router)

	go client.WritePump()
	client.ReadPump(h.ctx, session)
}

// Shutdown closes every live client and waits for them to finish. Clients still
// running when ctx expires are closed without a handshake.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info().Msg("Shutting down Hub...")

	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	defer h.cancel()

	select {
	case <-done:
		h.logger.Info().Int("clients", len(clients)).Msg("Hub shutdown complete.")
		return nil

	case <-ctx.Done():
		for _, c := range clients {
			c.forceClose()
		}
		h.logger.Warn().Msg("Hub shutdown timed out, connections force closed.")
		return ctx.Err()
	}
}
