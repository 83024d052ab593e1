// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat"

// Registry holds all application metrics on a private prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	FramesDropped     prometheus.Counter

	// Event metrics
	EventsTotal   *prometheus.CounterVec
	EventDuration *prometheus.HistogramVec
	RateLimited   prometheus.Counter

	// Read receipt metrics
	ReadsMarked       prometheus.Counter
	ReadNotifications *prometheus.CounterVec

	// Session metrics
	SessionsCreated    prometheus.Counter
	SessionValidations *prometheus.CounterVec
}

// New creates the registry with Go runtime and process collectors included.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		registry: reg,

		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "WebSocket connections currently open on this node.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by the per-connection throttle.",
		}),

		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events by name and outcome.",
		}, []string{"event", "outcome"}),
		EventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one inbound event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Events rejected by the per-user rate limit.",
		}),

		ReadsMarked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipts_total",
			Help:      "Messages that gained a new reader.",
		}),
		ReadNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_notifications_total",
			Help:      "Read notifications sent to senders by result.",
		}, []string{"result"}),

		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created by login.",
		}),
		SessionValidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_validations_total",
			Help:      "Session token validations by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
