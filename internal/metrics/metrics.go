// Package metrics exposes market lifecycle counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSubsystem prefixes every market metric.
const MetricsSubsystem = "market"

// Metrics holds the market service collectors. A nil registry means the
// collectors exist but are never exported.
type Metrics struct {
	registry *prometheus.Registry

	Operations  *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	OpenMarkets prometheus.Gauge
	Archived    prometheus.Counter
}

// PrometheusMetrics registers the collectors, plus Go runtime and process
// collectors, on a fresh registry.
func PrometheusMetrics(namespace string) *Metrics {
	m := newMetrics(namespace)
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Operations,
		m.Duration,
		m.OpenMarkets,
		m.Archived,
	)
	return m
}

// NopMetrics returns collectors that are never exported.
func NopMetrics() *Metrics {
	return newMetrics("")
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "operations_total",
			Help:      "Lifecycle operations by operation, variant and outcome kind.",
		}, []string{"op", "variant", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "operation_seconds",
			Help:      "Time to execute a lifecycle operation against the ledger.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, 1},
		}, []string{"op"}),
		OpenMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "open",
			Help:      "Open markets as of the last list of open markets.",
		}),
		Archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "history_archived_total",
			Help:      "Market history events moved to object storage.",
		}),
	}
}

// Observe records one finished operation. outcome is "ok" or an error kind.
func (m *Metrics) Observe(op, variant, outcome string, started time.Time) {
	m.Operations.WithLabelValues(op, variant, outcome).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
