package http

import (
	"sync"

	"battle-service/internal/domain"
	"battle-service/internal/logging"
	"go.uber.org/zap"
)

const clientBuffer = 64

// client is one websocket connection of a user.
type client struct {
	userID string
	send   chan outboundMessage[any]

	mu     sync.Mutex
	closed bool
}

// enqueue never blocks; a slow client loses messages rather than stalling a session.
func (c *client) enqueue(msg outboundMessage[any]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		logging.Warn("dropping message for slow client", zap.String("user_id", c.userID), zap.String("type", msg.Type))
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maps users to their live connection and implements app.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Notify delivers event to userID if connected.
func (h *Hub) Notify(userID string, event domain.Event) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.enqueue(outboundMessage[any]{Type: string(event.EventType()), Payload: event})
}

// Connected is the number of live connections.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register makes a new connection the current one of userID, closing any previous one.
func (h *Hub) register(userID string) *client {
	c := &client{userID: userID, send: make(chan outboundMessage[any], clientBuffer)}
	h.mu.Lock()
	prev := h.clients[userID]
	h.clients[userID] = c
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return c
}

// unregister reports whether c was still the current connection of its user.
func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	current := h.clients[c.userID] == c
	if current {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	c.close()
	return current
}
