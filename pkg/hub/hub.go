package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// queueSize is how many broadcasts may wait for the run loop.
const queueSize = 256

// Hub fans messages out to dashboard clients. Clients may follow one
// topic (a device session) or everything.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	// mu guards clients for readers outside Run.
	mu sync.RWMutex

	// done is closed when Run returns.
	done chan struct{}

	running atomic.Bool
	dropped atomic.Uint64
	evicted atomic.Uint64
}

// New creates a hub. It does nothing until Run is called.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, queueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done. On return every client's
// send channel is closed. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.closeAll()
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c, "client disconnected")
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("client connected", "topic", c.topic, "total", n)
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Debug(reason, "topic", c.topic, "remaining", n)
	}
}

// fanOut queues msg on every interested client. A client whose queue is
// full is evicted.
func (h *Hub) fanOut(msg Message) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.evicted.Add(1)
		h.remove(c, "dropped slow client")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues msg without blocking. When the queue is full the
// message is counted as dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping message", "topic", msg.Topic)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were discarded because the queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Evicted returns how many clients were disconnected for falling behind.
func (h *Hub) Evicted() uint64 {
	return h.evicted.Load()
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
