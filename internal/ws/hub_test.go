package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mesa-pos/api/internal/database"
	"github.com/mesa-pos/api/internal/enum"
)

// mockClient creates a client for testing without a real WebSocket connection
func mockClient(hub *Hub, orderID string) *Client {
	return &Client{
		hub:     hub,
		orderID: orderID,
		send:    make(chan []byte, 256),
	}
}

func TestHubRegistration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub, "ord-1")

	// Register client
	hub.register <- client

	// Give hub time to process
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if hub.rooms["ord-1"] == nil {
		t.Fatal("order room not created")
	}
	if !hub.rooms["ord-1"][client] {
		t.Fatal("client not registered in order room")
	}
}

func TestHubUnregistration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub, "ord-1")

	// Register client
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	// Unregister client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	// Room should be cleaned up when empty
	if hub.rooms["ord-1"] != nil {
		t.Fatal("order room not cleaned up after last client unregistered")
	}
}

func TestBroadcastToSingleOrder(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client1 := mockClient(hub, "ord-1")
	client2 := mockClient(hub, "ord-2")

	// Register both clients
	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	// Broadcast to ord-1 only
	testPayload := json.RawMessage(`{"id":"ord-1"}`)
	event := Event{
		Type:    "order.updated",
		Payload: testPayload,
	}
	hub.BroadcastToOrder("ord-1", event)

	// Check client1 receives the message
	select {
	case msg := <-client1.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if received.Type != "order.updated" {
			t.Errorf("expected type 'order.updated', got '%s'", received.Type)
		}
		if string(received.Payload) != string(testPayload) {
			t.Errorf("expected payload '%s', got '%s'", testPayload, received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client1 did not receive message")
	}

	// Check client2 does NOT receive the message
	select {
	case <-client2.send:
		t.Fatal("client2 should not have received message for different order")
	case <-time.After(50 * time.Millisecond):
		// Expected - no message received
	}
}

func TestBroadcastToMultipleClientsInSameRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client1 := mockClient(hub, "ord-1")
	client2 := mockClient(hub, "ord-1")
	client3 := mockClient(hub, "ord-1")

	// Register all clients to same order
	hub.register <- client1
	hub.register <- client2
	hub.register <- client3
	time.Sleep(10 * time.Millisecond)

	// Broadcast event
	testPayload := json.RawMessage(`{"status":"READY"}`)
	event := Event{
		Type:    "order.updated",
		Payload: testPayload,
	}
	hub.BroadcastToOrder("ord-1", event)

	// All three clients should receive the message
	clients := []*Client{client1, client2, client3}
	for i, client := range clients {
		select {
		case msg := <-client.send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client%d: failed to unmarshal: %v", i+1, err)
			}
			if received.Type != "order.updated" {
				t.Errorf("client%d: expected type 'order.updated', got '%s'", i+1, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("client%d did not receive message", i+1)
		}
	}
}

func TestOrderChangedBroadcastsSnapshot(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub, "ord-1")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.OrderChanged(database.Order{
		ID:     "ord-1",
		Number: 7,
		Status: enum.OrderStatusSent,
		Total:  decimal.NewFromInt(5),
		Lines:  []database.OrderLine{},
	})

	select {
	case msg := <-client.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if received.Type != "order.updated" {
			t.Errorf("event type: %s", received.Type)
		}
		var order database.Order
		if err := json.Unmarshal(received.Payload, &order); err != nil {
			t.Fatalf("failed to unmarshal payload: %v", err)
		}
		if order.ID != "ord-1" || order.Status != enum.OrderStatusSent {
			t.Errorf("payload: %+v", order)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive snapshot")
	}
}

func TestHubCleanupEmptyRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client1 := mockClient(hub, "ord-1")
	client2 := mockClient(hub, "ord-1")

	// Register both clients
	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	if len(hub.rooms["ord-1"]) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(hub.rooms["ord-1"]))
	}
	hub.mu.RUnlock()

	// Unregister first client
	hub.unregister <- client1
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	if len(hub.rooms["ord-1"]) != 1 {
		t.Fatalf("expected 1 client after first unregister, got %d", len(hub.rooms["ord-1"]))
	}
	hub.mu.RUnlock()

	// Unregister second client
	hub.unregister <- client2
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	if hub.rooms["ord-1"] != nil {
		t.Fatal("room should be deleted when last client unregisters")
	}
	hub.mu.RUnlock()
}

func TestBroadcastToNonExistentOrder(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := mockClient(hub, "ord-1")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	// Broadcast to an order nobody watches
	event := Event{
		Type:    "order.updated",
		Payload: json.RawMessage(`{"test":"data"}`),
	}
	hub.BroadcastToOrder("ord-other", event)

	// client should NOT receive anything
	select {
	case <-client.send:
		t.Fatal("client should not receive message for different order")
	case <-time.After(50 * time.Millisecond):
		// Expected - no message
	}
}
