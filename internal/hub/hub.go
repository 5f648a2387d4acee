package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"rnvlive/internal/domain"
)

type Client struct {
	ID    string
	Send  chan []byte
	trips map[string]struct{}
	mu    sync.RWMutex
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, bufferSize),
		trips: make(map[string]struct{}),
	}
}

func (c *Client) HasTrip(tripID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.trips[tripID]
	return ok
}

func (c *Client) AddTrips(tripIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tripIDs {
		c.trips[id] = struct{}{}
	}
}

func (c *Client) RemoveTrips(tripIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tripIDs {
		delete(c.trips, id)
	}
}

func (c *Client) GetTrips() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	trips := make([]string, 0, len(c.trips))
	for id := range c.trips {
		trips = append(trips, id)
	}
	return trips
}

type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	tripClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan domain.TrackingSnapshot

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		tripClients: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client, 16),
		unregister:  make(chan *Client, 16),
		broadcast:   make(chan domain.TrackingSnapshot, 256),
		logger:      logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.ID, "total", len(h.clients))

		case client := <-h.unregister:
			h.removeClient(client)

		case snap := <-h.broadcast:
			h.fanoutSnapshot(snap)
		}
	}
}

func (h *Hub) Subscribe(client *Client, tripIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddTrips(tripIDs)

	for _, tripID := range tripIDs {
		if h.tripClients[tripID] == nil {
			h.tripClients[tripID] = make(map[*Client]struct{})
		}
		h.tripClients[tripID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, tripIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveTrips(tripIDs)

	for _, tripID := range tripIDs {
		if h.tripClients[tripID] != nil {
			delete(h.tripClients[tripID], client)
			if len(h.tripClients[tripID]) == 0 {
				delete(h.tripClients, tripID)
			}
		}
	}
}

func (h *Hub) Broadcast(snap domain.TrackingSnapshot) {
	select {
	case h.broadcast <- snap:
	default:
		h.logger.Warn("broadcast channel full, dropping snapshot", "trip_id", snap.TripID)
	}
}

// PublishSnapshot lets the hub sit directly in the tracking fanout path.
func (h *Hub) PublishSnapshot(snap domain.TrackingSnapshot) {
	h.Broadcast(snap)
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type SnapshotMessage struct {
	Type    string                  `json:"type"`
	Payload domain.TrackingSnapshot `json:"payload"`
}

func (h *Hub) fanoutSnapshot(snap domain.TrackingSnapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.tripClients[snap.TripID]
	if !ok {
		return
	}

	data, err := json.Marshal(SnapshotMessage{Type: "snapshot", Payload: snap})
	if err != nil {
		return
	}

	for client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	for _, tripID := range client.GetTrips() {
		if h.tripClients[tripID] != nil {
			delete(h.tripClients[tripID], client)
			if len(h.tripClients[tripID]) == 0 {
				delete(h.tripClients, tripID)
			}
		}
	}

	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", len(h.clients))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
	h.tripClients = make(map[string]map[*Client]struct{})
}
