// Package metrics exposes Prometheus instrumentation for the session
// orchestrator and the control surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted  prometheus.Counter
	UsageTicks       prometheus.Counter
	TickFailures     prometheus.Counter
	Settlements      prometheus.Counter
	FinalizeFailures prometheus.Counter
	ConnectFailures  prometheus.Counter
	Subscribers      prometheus.Gauge
}

// New creates and registers all orchestrator metrics on a private registry
// alongside the standard Go runtime collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_sessions_started_total",
		Help: "Sessions that reached the streaming state",
	})
	m.UsageTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_usage_ticks_total",
		Help: "Confirmed usage writes against the accelerated tier",
	})
	m.TickFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_tick_failures_total",
		Help: "Usage writes rejected by the accelerated tier",
	})
	m.Settlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_settlements_total",
		Help: "Sessions settled on the base tier",
	})
	m.FinalizeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_finalize_failures_total",
		Help: "Finalize sequences that failed and left a session unresolved",
	})
	m.ConnectFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowstream_connect_failures_total",
		Help: "Connect attempts that failed during initialization",
	})
	m.Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowstream_subscribers",
		Help: "Currently connected snapshot subscribers",
	})

	m.registry.MustRegister(
		m.SessionsStarted,
		m.UsageTicks,
		m.TickFailures,
		m.Settlements,
		m.FinalizeFailures,
		m.ConnectFailures,
		m.Subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
