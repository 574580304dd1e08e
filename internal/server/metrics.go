package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the server's Prometheus collectors on a private registry so
// several servers (tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveSessions      prometheus.Gauge
	Logins              prometheus.Counter
	Disconnects         *prometheus.CounterVec
	Broadcasts          prometheus.Counter
	HistoryFailures     prometheus.Counter
	RejectedConnections prometheus.Counter
}

// NewMetrics creates and registers all collectors, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mycord",
			Name:      "active_sessions",
			Help:      "Number of logged-in sessions registered with the hub.",
		}),
		Logins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mycord",
			Name:      "logins_total",
			Help:      "Successful logins.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mycord",
			Name:      "session_terminations_total",
			Help:      "Terminated sessions by reason class.",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mycord",
			Name:      "broadcasts_total",
			Help:      "Chat messages broadcast to the room.",
		}),
		HistoryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mycord",
			Name:      "history_append_failures_total",
			Help:      "History entries that could not be written to the backing file.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mycord",
			Name:      "rejected_connections_total",
			Help:      "Connections refused by accept throttling or during shutdown.",
		}),
	}

	m.Registry.MustRegister(
		m.ActiveSessions,
		m.Logins,
		m.Disconnects,
		m.Broadcasts,
		m.HistoryFailures,
		m.RejectedConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HistoryFailureHook adapts HistoryFailures to the history store's failure callback.
func (m *Metrics) HistoryFailureHook() func(error) {
	return func(error) { m.HistoryFailures.Inc() }
}
