package server

import "sync"

// HistoryCapacity is the number of readings retained for snapshot queries.
const HistoryCapacity = 100

// HistoryStore is a fixed-capacity ring of readings, oldest first. Appending to a
// full store overwrites the oldest slot.
type HistoryStore struct {
	mu       sync.RWMutex
	readings []Reading
	start    int
	count    int
}

func NewHistoryStore() *HistoryStore {
	return newHistoryStore(HistoryCapacity)
}

func newHistoryStore(capacity int) *HistoryStore {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}

	return &HistoryStore{readings: make([]Reading, capacity)}
}

func (store *HistoryStore) Append(reading Reading) {
	store.mu.Lock()
	defer store.mu.Unlock()

	size := len(store.readings)
	if store.count == size {
		store.readings[store.start] = reading
		store.start = (store.start + 1) % size
		return
	}

	store.readings[(store.start+store.count)%size] = reading
	store.count++
}

// Snapshot returns a copy of the retained readings in arrival order.
func (store *HistoryStore) Snapshot() []Reading {
	store.mu.RLock()
	defer store.mu.RUnlock()

	output := make([]Reading, store.count)
	size := len(store.readings)
	for index := range output {
		output[index] = store.readings[(store.start+index)%size]
	}
	return output
}

func (store *HistoryStore) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.count
}

func (store *HistoryStore) Capacity() int {
	return len(store.readings)
}
