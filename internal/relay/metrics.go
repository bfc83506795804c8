package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Connections    prometheus.Gauge
	Messages       *prometheus.CounterVec
	OpsAppended    *prometheus.CounterVec
	AppendDuration *prometheus.HistogramVec
	HistoryOps     prometheus.Histogram
	Dropped        *prometheus.CounterVec
	BusMessages    *prometheus.CounterVec
}

// NewMetrics creates and registers the relay collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open participant connections",
		}),
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Envelopes handled, by kind and direction",
			},
			[]string{"kind", "direction"},
		),
		OpsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_appended_total",
				Help:      "Op log writes, by result",
			},
			[]string{"result"},
		),
		AppendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "append_duration_seconds",
				Help:      "Op log append latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		HistoryOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_ops",
			Help:      "Ops sent per history reply",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_total",
				Help:      "Messages dropped, by reason",
			},
			[]string{"reason"},
		),
		BusMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_total",
				Help:      "Cross-instance bus traffic, by direction",
			},
			[]string{"direction"},
		),
	}

	registry.MustRegister(
		m.Connections,
		m.Messages,
		m.OpsAppended,
		m.AppendDuration,
		m.HistoryOps,
		m.Dropped,
		m.BusMessages,
	)
	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
