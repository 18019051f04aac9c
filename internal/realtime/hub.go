package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Client is one connected display or dashboard. Send is buffered; a
// client that cannot keep up loses messages rather than stalling the
// broadcast, which is fine because every snapshot supersedes the last.
type Client struct {
	ID   string
	Send chan []byte
}

type Hub struct {
	log     *zap.Logger
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log, clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			h.log.Warn("dropping message for slow client", zap.String("client_id", client.ID))
		}
	}
}
