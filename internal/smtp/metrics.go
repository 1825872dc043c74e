package smtp

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one server. Each server
// registers on its own registry so several can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsTotal prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionDuration  prometheus.Histogram
	Disconnects      prometheus.Counter

	// Message metrics
	MessagesAccepted  prometheus.Counter
	StoreFailures     prometheus.Counter
	UnrecognizedLines prometheus.Counter
	MessageSize       prometheus.Histogram

	// Mirrors of the gauges above for the health endpoint.
	active   atomic.Int64
	accepted atomic.Int64
}

// NewMetrics creates the collectors on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "minimta_connections_total",
			Help: "The total number of accepted connections",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minimta_sessions_active",
			Help: "The number of sessions currently being served",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minimta_session_duration_seconds",
			Help:    "The duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "minimta_disconnects_total",
			Help: "The number of peers that disconnected before QUIT",
		}),
		MessagesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "minimta_messages_accepted_total",
			Help: "The total number of messages stored",
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "minimta_store_failures_total",
			Help: "The total number of messages the store failed to persist",
		}),
		UnrecognizedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "minimta_unrecognized_lines_total",
			Help: "The total number of ignored protocol lines",
		}),
		MessageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "minimta_message_size_bytes",
			Help:    "The size of received message bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ActiveSessions returns the number of sessions in progress.
func (m *Metrics) ActiveSessions() int64 {
	return m.active.Load()
}

// AcceptedMessages returns the number of messages stored since start.
func (m *Metrics) AcceptedMessages() int64 {
	return m.accepted.Load()
}

func (m *Metrics) sessionStarted() {
	m.ConnectionsTotal.Inc()
	m.SessionsActive.Inc()
	m.active.Add(1)
}

func (m *Metrics) sessionEnded(seconds float64) {
	m.SessionsActive.Dec()
	m.active.Add(-1)
	m.SessionDuration.Observe(seconds)
}

func (m *Metrics) messageAccepted() {
	m.MessagesAccepted.Inc()
	m.accepted.Add(1)
}
