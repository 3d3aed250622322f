// Package hub fans frames received from the CAN side out to every connected
// TCP client.
package hub

import (
	"sync"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/logging"
	"github.com/s32kdev/go-flexcan/internal/metrics"
)

// Policy decides what happens to a client whose queue is full.
type Policy int

const (
	// PolicyDrop discards the frame for that client only.
	PolicyDrop Policy = iota
	// PolicyKick disconnects the client.
	PolicyKick
)

// Client is one subscriber: a buffered frame queue plus a close signal.
type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is done (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Hub tracks subscribers and broadcasts frames to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     Policy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	first := len(h.clients) == 0
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(n)
	if first {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(n)
	if existed && n == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast offers the frame to every client, honoring the backpressure
// policy for the slow ones.
func (h *Hub) Broadcast(fr can.Frame) {
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- fr:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // writer notices and the server removes the client
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of the current clients.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
