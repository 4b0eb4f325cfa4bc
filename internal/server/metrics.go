package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "glucose"

type Metrics struct {
	registry         *prometheus.Registry
	samplesAccepted  prometheus.Counter
	samplesRejected  prometheus.Counter
	broadcastDropped prometheus.Counter
	archiveDropped   prometheus.Counter
}

func NewMetrics(history *HistoryStore, hub *BroadcastHub) *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_accepted_total",
			Help:      "Samples that parsed and were appended to history.",
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "samples_rejected_total",
			Help:      "Samples dropped because the value did not parse.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_dropped_total",
			Help:      "Live deliveries skipped because a subscriber queue was full.",
		}),
		archiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "archive_dropped_total",
			Help:      "Readings not archived because the archive queue was full.",
		}),
	}

	metrics.registry.MustRegister(
		metrics.samplesAccepted,
		metrics.samplesRejected,
		metrics.broadcastDropped,
		metrics.archiveDropped,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscribers_active",
			Help:      "Currently connected live subscribers.",
		}, func() float64 { return float64(hub.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "history_readings",
			Help:      "Readings currently retained in history.",
		}, func() float64 { return float64(history.Len()) }),
	)

	hub.setDropHandler(func(uuid.UUID) { metrics.broadcastDropped.Inc() })

	return metrics
}

func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
