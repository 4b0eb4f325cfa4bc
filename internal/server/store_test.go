package server

import (
	"sync"
	"testing"
	"time"
)

func readingAt(second int, value float64) Reading {
	base := time.Date(2026, 10, 15, 8, 0, 0, 0, time.Local)
	return NewReading(base.Add(time.Duration(second)*time.Second), value)
}

func TestHistoryStoreKeepsLastCapacityReadingsInOrder(t *testing.T) {
	for _, appended := range []int{0, 1, 99, 100, 101, 250} {
		store := NewHistoryStore()
		for index := 0; index < appended; index++ {
			store.Append(readingAt(index, float64(index)))
		}

		snapshot := store.Snapshot()
		expected := appended
		if expected > HistoryCapacity {
			expected = HistoryCapacity
		}
		if len(snapshot) != expected {
			t.Fatalf("after %d appends expected %d readings, got %d", appended, expected, len(snapshot))
		}

		first := appended - expected
		for offset, reading := range snapshot {
			if reading.Value != float64(first+offset) {
				t.Fatalf(
					"after %d appends expected value %d at position %d, got %v",
					appended, first+offset, offset, reading.Value,
				)
			}
		}
	}
}

func TestHistoryStoreEvictsOldestWhenFull(t *testing.T) {
	store := NewHistoryStore()
	for index := 0; index < HistoryCapacity; index++ {
		store.Append(readingAt(index, float64(index)))
	}

	before := store.Snapshot()
	store.Append(readingAt(HistoryCapacity, 999))
	after := store.Snapshot()

	if len(after) != HistoryCapacity {
		t.Fatalf("expected %d readings, got %d", HistoryCapacity, len(after))
	}
	if after[0] != before[1] {
		t.Fatalf("expected previous second-oldest %v at head, got %v", before[1], after[0])
	}
	if after[len(after)-1].Value != 999 {
		t.Fatalf("expected newest reading at tail, got %v", after[len(after)-1])
	}
}

func TestHistoryStoreSnapshotIsACopy(t *testing.T) {
	store := NewHistoryStore()
	store.Append(readingAt(0, 100))

	snapshot := store.Snapshot()
	snapshot[0].Value = -1

	if got := store.Snapshot()[0].Value; got != 100 {
		t.Fatalf("expected store to be unaffected by snapshot mutation, got %v", got)
	}
}

func TestHistoryStoreConcurrentAppendAndSnapshot(t *testing.T) {
	store := newHistoryStore(10)

	var writers sync.WaitGroup
	for writer := 0; writer < 4; writer++ {
		writers.Add(1)
		go func(writer int) {
			defer writers.Done()
			for index := 0; index < 500; index++ {
				store.Append(readingAt(index, float64(writer*1000+index)))
			}
		}(writer)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for index := 0; index < 500; index++ {
			if size := len(store.Snapshot()); size > 10 {
				t.Errorf("snapshot exceeded capacity: %d", size)
				return
			}
		}
	}()

	writers.Wait()
	<-done

	if store.Len() != 10 {
		t.Fatalf("expected full store of 10, got %d", store.Len())
	}
}
