package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for the server.
// It satisfies relay.Metrics for the websocket gateway and exposes
// a counter hook for credential issuance.
type Metrics struct {
	reg *prometheus.Registry

	connsOpen      prometheus.Gauge
	connsTotal     prometheus.Counter
	pairingsFormed prometheus.Counter
	framesRelayed  prometheus.Counter
	tokensIssued   prometheus.Counter
}

// NewMetrics builds a self-contained metrics registry with process and Go
// runtime collectors plus the tether-specific series.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		connsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tether_ws_connections_open",
			Help: "Number of websocket connections currently attached.",
		}),
		connsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_ws_connections_total",
			Help: "Total websocket connections accepted.",
		}),
		pairingsFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_pairings_formed_total",
			Help: "Total relay rooms formed from consumed pairing tokens.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_frames_relayed_total",
			Help: "Total relay frames forwarded between paired connections.",
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tether_credentials_issued_total",
			Help: "Total successful credential issuances.",
		}),
	}

	reg.MustRegister(m.connsOpen, m.connsTotal, m.pairingsFormed, m.framesRelayed, m.tokensIssued)
	return m
}

// ConnOpened implements relay.Metrics.
func (m *Metrics) ConnOpened() {
	m.connsOpen.Inc()
	m.connsTotal.Inc()
}

// ConnClosed implements relay.Metrics.
func (m *Metrics) ConnClosed() { m.connsOpen.Dec() }

// PairingFormed implements relay.Metrics.
func (m *Metrics) PairingFormed() { m.pairingsFormed.Inc() }

// Relayed implements relay.Metrics.
func (m *Metrics) Relayed() { m.framesRelayed.Inc() }

// CredentialIssued records one successful issuance.
func (m *Metrics) CredentialIssued() { m.tokensIssued.Inc() }

// Handler returns the /metrics scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
