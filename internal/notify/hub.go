package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub broadcasts notifications to connected stream clients such as the /ws endpoint
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Notification
}

// NewHub creates a hub with no subscribers
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notification)}
}

// Subscribe registers a client. The returned cancel func must be called when the client leaves.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Notification, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Name() string { return "ws" }

// Notify delivers n to every client. Slow clients with a full buffer miss it.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}
