package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// ReadingSink receives a copy of every accepted reading. Sinks are an audit trail
// only; history is never rebuilt from them.
type ReadingSink interface {
	Name() string
	Write(ctx context.Context, reading Reading) error
	Ping(ctx context.Context) error
	Close()
}

type ArchiverConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

func DefaultArchiverConfig() ArchiverConfig {
	return ArchiverConfig{
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
	}
}

// Archiver drains accepted readings into the configured sinks on its own goroutine
// so sink latency never reaches the live path.
type Archiver struct {
	sinks  []ReadingSink
	config ArchiverConfig
	queue  chan Reading
	onDrop func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewArchiver(sinks []ReadingSink, config ArchiverConfig) *Archiver {
	defaults := DefaultArchiverConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	archiver := &Archiver{
		sinks:  sinks,
		config: config,
		queue:  make(chan Reading, config.QueueSize),
		done:   make(chan struct{}),
	}
	go archiver.run()
	return archiver
}

// Enqueue reports false when the reading was not archived, either because the
// queue is full or the archiver is closed.
func (archiver *Archiver) Enqueue(reading Reading) bool {
	archiver.mu.RLock()
	defer archiver.mu.RUnlock()
	if archiver.closed {
		return false
	}

	select {
	case archiver.queue <- reading:
		return true
	default:
		if archiver.onDrop != nil {
			archiver.onDrop()
		}
		log.Printf("archive queue full, dropping reading value=%v", reading.Value)
		return false
	}
}

func (archiver *Archiver) run() {
	defer close(archiver.done)

	for reading := range archiver.queue {
		for _, sink := range archiver.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), archiver.config.WriteTimeout)
			if err := sink.Write(ctx, reading); err != nil {
				log.Printf("archive write failed sink=%s: %v", sink.Name(), err)
			}
			cancel()
		}
	}
}

func (archiver *Archiver) Ping(ctx context.Context) error {
	for _, sink := range archiver.sinks {
		if err := sink.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting readings, drains what is queued and closes every sink.
func (archiver *Archiver) Close() {
	archiver.mu.Lock()
	if archiver.closed {
		archiver.mu.Unlock()
		return
	}
	archiver.closed = true
	close(archiver.queue)
	archiver.mu.Unlock()

	<-archiver.done
	for _, sink := range archiver.sinks {
		sink.Close()
	}
}
