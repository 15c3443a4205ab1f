// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomcast"

// Metrics groups the collectors updated by the realtime engine and the
// transport. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	events        *prometheus.CounterVec
	delivered     prometheus.Counter
	dropped       prometheus.Counter
	typingExpired prometheus.Counter
	rateLimited   prometheus.Counter
	retention     *prometheus.CounterVec
}

// New builds a Metrics with its own registry, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Distinct users with at least one live connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound events handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_events_delivered_total",
			Help:      "Outbound events queued to a connection.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_events_dropped_total",
			Help:      "Outbound events dropped because a connection could not accept them.",
		}),
		typingExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_expired_total",
			Help:      "Typing indicators removed by the sweeper.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_frames_total",
			Help:      "Inbound frames rejected by the per-connection rate limiter.",
		}),
		retention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_rows_total",
			Help:      "Rows removed by the retention job, by table.",
		}, []string{"table"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.onlineUsers,
		m.events,
		m.delivered,
		m.dropped,
		m.typingExpired,
		m.rateLimited,
		m.retention,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetConnections records the live connection and online user counts.
func (m *Metrics) SetConnections(conns, users int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(conns))
	m.onlineUsers.Set(float64(users))
}

// EventHandled counts one inbound event.
func (m *Metrics) EventHandled(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// Delivered counts outbound events that were queued and dropped.
func (m *Metrics) Delivered(queued, dropped int) {
	if m == nil {
		return
	}
	m.delivered.Add(float64(queued))
	m.dropped.Add(float64(dropped))
}

// TypingExpired counts indicators removed by the sweeper.
func (m *Metrics) TypingExpired(n int) {
	if m == nil || n == 0 {
		return
	}
	m.typingExpired.Add(float64(n))
}

// RateLimited counts one rejected frame.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// RetentionDeleted counts rows removed from table.
func (m *Metrics) RetentionDeleted(table string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.retention.WithLabelValues(table).Add(float64(n))
}
