package ws

import (
	"sync"
)

// Registry tracks the live connections of the broker.
type Registry struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Add registers a client and removes it again when the client closes.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID()] = c
	r.mu.Unlock()

	c.OnClose(func() {
		r.Remove(c.ID())
	})
}

// Get returns the client with the given id, or nil if not found.
func (r *Registry) Get(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

// Remove forgets the client with the given id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Count returns the number of live connections speaking protocol.
func (r *Registry) Count(protocol Protocol) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.clients {
		if c.Protocol() == protocol {
			n++
		}
	}
	return n
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes every live connection, running each finalizer.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
