package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a store change streamed to every connection of one user
type Event struct {
	// Type of event, currently always "change"
	Type string `json:"type"`

	// Store the change belongs to, e.g. "posts"
	Store string `json:"store"`

	// Cache inside the store, e.g. "comments"
	Cache string `json:"cache"`

	// Kind of change: set, delete or reset
	Kind string `json:"kind"`

	Key     string `json:"key,omitempty"`
	Version int64  `json:"version"`

	// Data is the new value; empty for deletes and resets
	Data interface{} `json:"data,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// UserID routes the event and is not sent
	UserID string `json:"-"`
}

// Hub maintains the set of active clients and fans events out to them
type Hub struct {
	// Registered clients organized by user ID
	clients map[string]map[*Client]bool

	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Mutex for concurrent access to clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub instance. buffer bounds the events queued ahead
// of the run loop.
func NewHub(logger zerolog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		broadcast:  make(chan *Event, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
		logger:     logger,
	}
}

// Run handles client registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// registerClient registers a new client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true

	h.logger.Info().
		Str("userID", client.userID).
		Str("addr", client.remoteAddr()).
		Msg("Client registered")
}

// unregisterClient unregisters a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.userID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}

	h.logger.Info().
		Str("userID", client.userID).
		Str("addr", client.remoteAddr()).
		Msg("Client unregistered")
}

// broadcastEvent sends an event to every connection of its user. Clients
// whose send buffer is full are dropped.
func (h *Hub) broadcastEvent(event *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[event.UserID]
	if !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("userID", event.UserID).
			Str("store", event.Store).
			Msg("Failed to marshal event for broadcast")
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn().Str("userID", client.userID).Msg("Dropping slow client")
			h.removeLocked(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// Publish queues an event for its user's connections. It never blocks:
// when the queue is full or the hub has stopped the event is dropped.
func (h *Hub) Publish(event *Event) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().
			Str("userID", event.UserID).
			Str("store", event.Store).
			Msg("Event queue full, dropping event")
	}
}

// ClientCount returns the number of open connections of a user
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
