package server

import (
	"sync"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 64

// Subscription is one live subscriber's handle on the hub. Readings arrive on C in
// publish order until the subscription is removed, at which point C is closed.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Reading

	channel chan Reading
}

// BroadcastHub fans published readings out to every active subscription.
type BroadcastHub struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[uuid.UUID]*Subscription
	onDrop      func(id uuid.UUID)
}

func NewBroadcastHub(bufferSize int) *BroadcastHub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}

	return &BroadcastHub{
		bufferSize:  bufferSize,
		subscribers: make(map[uuid.UUID]*Subscription),
	}
}

func (hub *BroadcastHub) Subscribe() *Subscription {
	channel := make(chan Reading, hub.bufferSize)
	subscription := &Subscription{
		ID:      uuid.New(),
		C:       channel,
		channel: channel,
	}

	hub.mu.Lock()
	hub.subscribers[subscription.ID] = subscription
	hub.mu.Unlock()

	return subscription
}

// Unsubscribe removes the subscription and closes its channel. Unknown or already
// removed subscriptions are ignored.
func (hub *BroadcastHub) Unsubscribe(subscription *Subscription) {
	if subscription == nil {
		return
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if current, exists := hub.subscribers[subscription.ID]; exists && current == subscription {
		delete(hub.subscribers, subscription.ID)
		close(subscription.channel)
	}
}

// Publish never blocks: a subscriber whose queue is full misses this reading.
// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
func (hub *BroadcastHub) Publish(reading Reading) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for id, subscription := range hub.subscribers {
		select {
		case subscription.channel <- reading:
		default:
			if hub.onDrop != nil {
				hub.onDrop(id)
			}
		}
	}
}

func (hub *BroadcastHub) setDropHandler(handler func(id uuid.UUID)) {
	hub.mu.Lock()
	hub.onDrop = handler
	hub.mu.Unlock()
}

func (hub *BroadcastHub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscribers)
}
