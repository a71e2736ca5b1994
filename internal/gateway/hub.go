package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"hlscast/internal/notify"
)

// Hub holds the connections open on this server and delivers payloads to
// them. It is the notify.Pusher for locally terminated WebSockets. Channel ids
// carry the instance id as a prefix: an id of this instance that is not open
// here is reported gone, an id of another instance is reported elsewhere.
type Hub struct {
	instance string

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewHub(instance string) *Hub {
	return &Hub{instance: instance, clients: make(map[string]*client)}
}

func (h *Hub) newChannelID() string {
	return h.instance + ":" + uuid.NewString()
}

func (h *Hub) owns(channelID string) bool {
	return strings.HasPrefix(channelID, h.instance+":")
}

// add reports false once the hub is closed.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) get(id string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Push(_ context.Context, channelID string, payload []byte) error {
	c, ok := h.get(channelID)
	if !ok {
		if !h.owns(channelID) {
			return fmt.Errorf("%w: %s", notify.ErrChannelElsewhere, channelID)
		}
		return fmt.Errorf("%w: %s is not connected", notify.ErrChannelGone, channelID)
	}
	if err := c.writeText(payload); err != nil {
		c.close()
		return fmt.Errorf("%w: %v", notify.ErrChannelGone, err)
	}
	return nil
}

// closeAll closes every open connection and refuses new ones.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
