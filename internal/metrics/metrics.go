// Package metrics exposes the Prometheus collectors for import cycles.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "steambot"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	imports     *prometheus.CounterVec
	duration    prometheus.Histogram
	skipped     *prometheus.CounterVec
	recommended prometheus.Gauge
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Import cycles by final stage and outcome kind.",
		}, []string{"stage", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Wall time of one import cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_skipped_rows_total",
			Help:      "Dump rows skipped as malformed.",
		}, []string{"dump"}),
		recommended: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recommended_items",
			Help:      "Items recommended in the last batch run.",
		}),
	}
	reg.MustRegister(
		m.imports,
		m.duration,
		m.skipped,
		m.recommended,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveImport records one finished cycle.
func (m *Metrics) ObserveImport(stage, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(stage, kind).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// SkippedRows adds n skipped rows for the named dump.
func (m *Metrics) SkippedRows(dump string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skipped.WithLabelValues(dump).Add(float64(n))
}

// SetRecommended sets the recommended-items gauge.
func (m *Metrics) SetRecommended(n int) {
	if m == nil {
		return
	}
	m.recommended.Set(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
