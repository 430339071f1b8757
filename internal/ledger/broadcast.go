package ledger

import (
	"sync"

	"github.com/mesa-pos/api/internal/database"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped rather than allowed to block writers.
const subscriberBuffer = 16

type subscriber struct {
	ch chan database.Order
}

// Broadcaster fans committed order snapshots out to per-order subscriber
// lists. Publish and Subscribe share one mutex, so every subscriber sees
// writes in publish order.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[*subscriber]bool)}
}

// Subscribe registers a subscriber for the order and queues the initial
// snapshot as its first delivery. The returned func unsubscribes; calling
// it more than once is safe.
func (b *Broadcaster) Subscribe(orderID string, initial database.Order) (<-chan database.Order, func()) {
	sub := &subscriber{ch: make(chan database.Order, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[orderID] == nil {
		b.subs[orderID] = make(map[*subscriber]bool)
	}
	b.subs[orderID][sub] = true
	sub.ch <- initial
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.remove(orderID, sub)
	}
	return sub.ch, cancel
}

// Publish delivers the snapshot to every subscriber of its order. A
// subscriber whose buffer is full is closed and removed.
func (b *Broadcaster) Publish(order database.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[order.ID] {
		select {
		case sub.ch <- order:
		default:
			b.remove(order.ID, sub)
		}
	}
}

// remove must be called with the mutex held.
func (b *Broadcaster) remove(orderID string, sub *subscriber) {
	subs, ok := b.subs[orderID]
	if !ok {
		return
	}
	if _, exists := subs[sub]; !exists {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subs, orderID)
	}
}
