// Package metrics exposes Prometheus counters and histograms for repair runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jxucoder/refactorgen/model"
)

const namespace = "refactorgen"

// Metrics holds the collectors for one process. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	issuesTotal        *prometheus.CounterVec
	oracleCallsTotal   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	runsInFlight       prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Repair runs by final outcome",
		}, []string{"outcome"}),
		issuesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Processed issues by terminal status",
		}, []string{"kind"}),
		oracleCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Oracle calls by operation and outcome",
		}, []string{"op", "outcome"}),
		validationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Duration of project-wide validation runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		runsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Repair runs currently executing",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOracle counts one oracle call.
func (m *Metrics) ObserveOracle(op, outcome string) {
	m.oracleCallsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveValidation records one validation run.
func (m *Metrics) ObserveValidation(d time.Duration, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	m.validationDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveRecord counts one terminal issue status.
func (m *Metrics) ObserveRecord(kind model.StatusKind) {
	m.issuesTotal.WithLabelValues(string(kind)).Inc()
}

// RunStarted marks a run as in flight.
func (m *Metrics) RunStarted() { m.runsInFlight.Inc() }

// RunFinished counts a run's final status and clears it from in flight.
func (m *Metrics) RunFinished(status model.RunStatus) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(string(status)).Inc()
}
