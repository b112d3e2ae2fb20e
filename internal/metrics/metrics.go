// Package metrics exposes gateway counters and latency histograms in
// Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Placeholder label values. Callers pass these instead of request input
// that did not match a known vendor, operation or route, so the series
// count stays bounded.
const (
	LabelUnknown   = "unknown"
	LabelUnmatched = "unmatched"
	LabelOther     = "OTHER"
)

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Metrics holds the gateway collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rgw_commands_total",
				Help: "Dispatched commands by vendor, operation, outcome and failure kind.",
			},
			[]string{"vendor", "operation", "outcome", "kind"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rgw_command_duration_seconds",
				Help:    "End to end dispatch latency by vendor and operation.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"vendor", "operation"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rgw_commands_in_flight",
				Help: "Commands currently waiting on a vendor.",
			},
			[]string{"vendor"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rgw_http_requests_total",
				Help: "HTTP requests by route, method and status code.",
			},
			[]string{"route", "method", "status"},
		),
	}

	m.registry.MustRegister(
		m.commands,
		m.commandDuration,
		m.inFlight,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCommand records one finished dispatch. kind is empty on success.
func (m *Metrics) ObserveCommand(vendor, operation, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if kind != "" {
		outcome = OutcomeFailure
	}
	m.commands.WithLabelValues(vendor, operation, outcome, kind).Inc()
	m.commandDuration.WithLabelValues(vendor, operation).Observe(elapsed.Seconds())
}

// TrackInFlight increments the in-flight gauge for vendor and returns the
// matching decrement.
func (m *Metrics) TrackInFlight(vendor string) func() {
	if m == nil {
		return func() {}
	}
	g := m.inFlight.WithLabelValues(vendor)
	g.Inc()
	return g.Dec
}

// ObserveHTTP counts one served HTTP request. Methods outside the standard
// set are counted as OTHER.
func (m *Metrics) ObserveHTTP(route, method string, status int) {
	if m == nil {
		return
	}
	if !knownMethods[method] {
		method = LabelOther
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
