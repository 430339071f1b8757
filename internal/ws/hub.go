package ws

import (
	"encoding/json"
	"sync"

	"github.com/mesa-pos/api/internal/database"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// orderEvent is an internal struct for routing events to specific orders
type orderEvent struct {
	OrderID string
	Event   Event
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Rooms are keyed by order id: every watcher of an order shares one room.
type Hub struct {
	rooms map[string]map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *orderEvent

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *orderEvent, 256),
	}
}

// Run starts the hub's main loop
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.orderID] == nil {
				h.rooms[client.orderID] = make(map[*Client]bool)
			}
			h.rooms[client.orderID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.orderID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					// Clean up empty rooms
					if len(clients) == 0 {
						delete(h.rooms, client.orderID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.OrderID]

			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			// Send to all clients in this order's room
			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					close(client.send)
					delete(h.rooms[event.OrderID], client)
					if len(h.rooms[event.OrderID]) == 0 {
						delete(h.rooms, event.OrderID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToOrder sends an event to all clients watching a specific order
func (h *Hub) BroadcastToOrder(orderID string, event Event) {
	h.broadcast <- &orderEvent{
		OrderID: orderID,
		Event:   event,
	}
}

// OrderChanged broadcasts the fresh snapshot to the order's room.
// Implements ledger.Sink, so the hub can be handed straight to the
// ledger's fan-out.
func (h *Hub) OrderChanged(order database.Order) {
	payload, err := json.Marshal(order)
	if err != nil {
		return
	}
	h.BroadcastToOrder(order.ID, Event{Type: "order.updated", Payload: payload})
}
