// Package websocket adapts internal/controller.ConnectionMux onto a gorilla/websocket
// connection per subscriber: a hub tracking clients, a per-client send buffer, and ping/pong
// keep-alive, carrying ConnectionMux's OutboundEvent as JSON.
package websocket

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/opencnc/cncstream/internal/controller"
	"github.com/opencnc/cncstream/internal/protocol"
)

// Hub owns the set of WebSocket clients subscribed, through ConnectionMux, to one controller.
type Hub struct {
	controller controller.ConnectedController
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[protocol.ClientHandle]*Client
}

func NewHub(c controller.ConnectedController, logger *slog.Logger) *Hub {
	return &Hub{
		controller: c,
		logger:     logger,
		clients:    make(map[protocol.ClientHandle]*Client),
	}
}

// register creates a fresh client handle, subscribes it through the controller, and records the
// client. Called from ServeWs once the HTTP connection has been upgraded; ServeWs then starts
// the client's pumps.
func (h *Hub) register(conn wsConn) *Client {
	handle := protocol.ClientHandle(uuid.NewString())
	events := h.controller.AddConnection(handle)

	client := &Client{
		hub:    h,
		handle: handle,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: events,
	}

	h.mu.Lock()
	h.clients[handle] = client
	h.mu.Unlock()

	h.logger.Info("WebSocket client registered", "client", handle, "totalClients", h.clientCount())

	return client
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.handle)
	h.mu.Unlock()

	h.controller.RemoveConnection(client.handle)
	h.logger.Info("WebSocket client unregistered", "client", client.handle, "totalClients", h.clientCount())
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
