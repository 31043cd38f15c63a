package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "derivwatch"

// Metrics holds the watcher's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FetchTotal         *prometheus.CounterVec
	AlertsGenerated    *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	AlertsDropped      prometheus.Counter
	PersistErrors      prometheus.Counter
	CycleDuration      prometheus.Histogram
	Cycles             prometheus.Counter
	LastCycle          prometheus.Gauge
	TrackedInstruments prometheus.Gauge
	Phase              prometheus.Gauge
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Instrument fetches by result (ok, transient, permanent).",
		}, []string{"result"}),

		AlertsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_generated_total",
			Help:      "Alert events produced by the detector.",
		}, []string{"metric", "severity"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by destination and final result.",
		}, []string{"destination", "result"}),

		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alert events not delivered to any destination.",
		}),

		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed state saves or history writes.",
		}),

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full poll cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed poll cycles.",
		}),

		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle completed.",
		}),

		TrackedInstruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_instruments",
			Help:      "Instruments with a stored snapshot.",
		}),

		Phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Coordinator phase (0 idle, 1 fetching, 2 detecting, 3 dispatching, 4 shutting down).",
		}),
	}

	m.registry.MustRegister(
		m.FetchTotal,
		m.AlertsGenerated,
		m.Deliveries,
		m.AlertsDropped,
		m.PersistErrors,
		m.CycleDuration,
		m.Cycles,
		m.LastCycle,
		m.TrackedInstruments,
		m.Phase,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFetch records one cycle's fetch results.
func (m *Metrics) ObserveFetch(ok, transient, permanent int) {
	m.FetchTotal.WithLabelValues("ok").Add(float64(ok))
	m.FetchTotal.WithLabelValues("transient").Add(float64(transient))
	m.FetchTotal.WithLabelValues("permanent").Add(float64(permanent))
}

// ObserveAlert records one generated alert.
func (m *Metrics) ObserveAlert(metric, severity string) {
	m.AlertsGenerated.WithLabelValues(metric, severity).Inc()
}

// ObserveDelivery records the final result of one event at one destination.
func (m *Metrics) ObserveDelivery(destination, result string) {
	m.Deliveries.WithLabelValues(destination, result).Inc()
}

// ObserveCycle records a completed cycle.
func (m *Metrics) ObserveCycle(d time.Duration, end time.Time) {
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.LastCycle.Set(float64(end.Unix()))
}
