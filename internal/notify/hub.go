// Package notify delivers document status updates to the members of an
// organization, either directly over websockets or through a Firestore
// event collection that the realtime hub relays.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/models"
)

// Hub keeps one room of websocket clients per organization.
type Hub struct {
	// organizationID -> connected clients
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	// closed when Run returns
	done chan struct{}

	mu      sync.RWMutex
	metrics *metrics.Metrics
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(met *metrics.Metrics) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    met,
	}
}

// Run processes joins and leaves until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.organizationID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[client.organizationID] = room
			}
			room[client] = struct{}{}
			total := h.countLocked()
			h.mu.Unlock()
			h.metrics.ObserveHubClients(total)
			slog.Info("Client joined organization room.", "clientId", client.id, "organizationId", client.organizationID)

		case client := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[client.organizationID]; ok {
				if _, ok := room[client]; ok {
					delete(room, client)
					close(client.send)
					if len(room) == 0 {
						delete(h.rooms, client.organizationID)
					}
				}
			}
			total := h.countLocked()
			h.mu.Unlock()
			h.metrics.ObserveHubClients(total)
			slog.Info("Client left organization room.", "clientId", client.id, "organizationId", client.organizationID)

		case <-ctx.Done():
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			h.metrics.ObserveHubClients(0)
			return
		}
	}
}

// NotifyOrganization sends update to every client in the organization's room.
// Clients whose buffers are full miss the update rather than stalling the
// sender. An empty room is not an error.
func (h *Hub) NotifyOrganization(_ context.Context, organizationID string, update models.StatusUpdate) error {
	if organizationID == "" {
		return fmt.Errorf("%w: cannot notify an empty organization", models.ErrMissingOrganization)
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[organizationID] {
		select {
		case client.send <- payload:
		default:
			slog.Warn("Client send buffer full. Dropping update.", "clientId", client.id, "documentId", update.DocumentID)
		}
	}
	return nil
}

// ClientCount reports the clients connected for an organization.
func (h *Hub) ClientCount(organizationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[organizationID])
}

func (h *Hub) countLocked() int {
	total := 0
	for _, room := range h.rooms {
		total += len(room)
	}
	return total
}
