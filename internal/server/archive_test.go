package server

import (
	"context"
	"errors"
	"testing"
)

func TestArchiverDrainsQueueAndClosesSinksOnClose(t *testing.T) {
	first := &fakeSink{}
	second := &fakeSink{}
	archiver := NewArchiver([]ReadingSink{first, second}, ArchiverConfig{QueueSize: 8})

	for index := 0; index < 5; index++ {
		if !archiver.Enqueue(readingAt(index, float64(index))) {
			t.Fatalf("expected enqueue %d to succeed", index)
		}
	}
	archiver.Close()
	archiver.Close()

	for _, sink := range []*fakeSink{first, second} {
		if got := len(sink.Written()); got != 5 {
			t.Fatalf("expected 5 archived readings, got %d", got)
		}
		if !sink.closed {
			t.Fatalf("expected sink to be closed")
		}
	}
}

func TestArchiverContinuesAfterSinkError(t *testing.T) {
	failing := &fakeSink{writeErr: errors.New("disk full")}
	healthy := &fakeSink{}
	archiver := NewArchiver([]ReadingSink{failing, healthy}, ArchiverConfig{})

	archiver.Enqueue(readingAt(0, 1))
	archiver.Enqueue(readingAt(1, 2))
	archiver.Close()

	if got := len(healthy.Written()); got != 2 {
		t.Fatalf("expected healthy sink to receive both readings, got %d", got)
	}
}

func TestArchiverDropsWhenQueueIsFull(t *testing.T) {
	blocked := &fakeSink{block: make(chan struct{})}
	archiver := NewArchiver([]ReadingSink{blocked}, ArchiverConfig{QueueSize: 1})

	dropped := 0
	archiver.onDrop = func() { dropped++ }

	// The worker takes the first reading and blocks in Write; the second fills the
	// queue; further readings must be dropped without blocking.
	accepted := 0
	for index := 0; index < 10; index++ {
		if archiver.Enqueue(readingAt(index, float64(index))) {
			accepted++
		}
	}

	if accepted > 2 {
		t.Fatalf("expected at most 2 queued readings, got %d", accepted)
	}
	if dropped != 10-accepted {
		t.Fatalf("expected %d drops, got %d", 10-accepted, dropped)
	}

	close(blocked.block)
	archiver.Close()
}

func TestArchiverPingReportsFirstFailure(t *testing.T) {
	archiver := NewArchiver([]ReadingSink{&fakeSink{}, &fakeSink{pingErr: errors.New("down")}}, ArchiverConfig{})
	defer archiver.Close()

	if err := archiver.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure to surface")
	}
}

func TestArchiverRejectsEnqueueAfterClose(t *testing.T) {
	sink := &fakeSink{}
	archiver := NewArchiver([]ReadingSink{sink}, ArchiverConfig{})
	archiver.Close()

	if archiver.Enqueue(readingAt(0, 100)) {
		t.Fatalf("expected enqueue after close to be rejected")
	}
	if got := len(sink.Written()); got != 0 {
		t.Fatalf("expected no archived readings, got %d", got)
	}
}
