package server

import (
	"log"
	"sync"
	"time"
)

// Ingestor turns producer samples into readings: append to history, then publish.
type Ingestor struct {
	history  *HistoryStore
	hub      *BroadcastHub
	archiver *Archiver
	metrics  *Metrics
	now      func() time.Time

	// sequence keeps append order and publish order identical across producers.
	sequence sync.Mutex
}

type IngestorOption func(*Ingestor)

func WithArchiver(archiver *Archiver) IngestorOption {
	return func(ingestor *Ingestor) {
		ingestor.archiver = archiver
	}
}

func WithMetrics(metrics *Metrics) IngestorOption {
	return func(ingestor *Ingestor) {
		ingestor.metrics = metrics
	}
}

func WithClock(now func() time.Time) IngestorOption {
	return func(ingestor *Ingestor) {
		ingestor.now = now
	}
}

func NewIngestor(history *HistoryStore, hub *BroadcastHub, options ...IngestorOption) *Ingestor {
	ingestor := &Ingestor{
		history: history,
		hub:     hub,
		now:     time.Now,
	}
	for _, option := range options {
		option(ingestor)
	}

	if ingestor.metrics != nil && ingestor.archiver != nil {
		ingestor.archiver.onDrop = ingestor.metrics.archiveDropped.Inc
	}

	return ingestor
}

// IngestRaw decodes a producer payload and accepts it. A payload that does not
// carry a finite glucose value is logged and dropped.
func (ingestor *Ingestor) IngestRaw(raw []byte) (Reading, error) {
	sample, err := DecodeSample(raw)
	if err != nil {
		ingestor.reject(err)
		return Reading{}, err
	}
	return ingestor.Accept(sample), nil
}

func (ingestor *Ingestor) Accept(sample Sample) Reading {
	ingestor.sequence.Lock()
	reading := NewReading(ingestor.now(), sample.Glucose)
	ingestor.history.Append(reading)
	ingestor.hub.Publish(reading)
	if ingestor.archiver != nil {
		ingestor.archiver.Enqueue(reading)
	}
	ingestor.sequence.Unlock()

	if ingestor.metrics != nil {
		ingestor.metrics.samplesAccepted.Inc()
	}

	if sample.DeviceID != "" {
		log.Printf("received glucose value=%v mg/dL device=%s", reading.Value, sample.DeviceID)
	} else {
		log.Printf("received glucose value=%v mg/dL", reading.Value)
	}
	return reading
}

func (ingestor *Ingestor) reject(err error) {
	if ingestor.metrics != nil {
		ingestor.metrics.samplesRejected.Inc()
	}
	log.Printf("error processing sample: %v", err)
}
