package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's instruments on a private registry so
// tests can create throwaway instances without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	Polls          *prometheus.CounterVec
	PollBackoff    *prometheus.GaugeVec
	ZeroStreak     prometheus.Gauge
	Refreshes      *prometheus.CounterVec
	LiveClients    prometheus.Gauge
	Pushes         prometheus.Counter
	SuppressedPush prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovbus_feed_polls_total",
			Help: "Feed poll attempts by feed and outcome.",
		}, []string{"feed", "outcome"}),
		PollBackoff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ovbus_feed_backoff_seconds",
			Help: "Current poll interval per feed, including backoff.",
		}, []string{"feed"}),
		ZeroStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ovbus_zero_vehicle_streak",
			Help: "Consecutive in-service vehicle polls that returned no vehicles.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ovbus_reference_refreshes_total",
			Help: "Reference dataset refresh attempts by reason.",
		}, []string{"reason"}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ovbus_live_clients",
			Help: "Currently connected live stream clients.",
		}),
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovbus_vehicle_pushes_total",
			Help: "Vehicle snapshots pushed to live clients.",
		}),
		SuppressedPush: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ovbus_vehicle_pushes_suppressed_total",
			Help: "Vehicle polls whose result matched the previous push.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Polls,
		m.PollBackoff,
		m.ZeroStreak,
		m.Refreshes,
		m.LiveClients,
		m.Pushes,
		m.SuppressedPush,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
