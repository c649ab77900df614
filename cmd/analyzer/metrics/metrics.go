// Package metrics provides Prometheus instrumentation for the analyzer.
//
// It tracks the duration of each pipeline stage (record collection, curve
// fitting, KPI derivation), per-animal KPI gauges for dashboards, and error
// counts by component and reason. Everything is exposed on /metrics for
// Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the analyzer.
type Metrics struct {
	RecordsCollectSeconds prometheus.Histogram
	FitSeconds            prometheus.Histogram
	KPIComputeSeconds     prometheus.Histogram
	FitEvaluations        prometheus.Histogram

	AnalysesTotal *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec

	PeakYield      *prometheus.GaugeVec
	TimeToPeakDays *prometheus.GaugeVec
	PersistencyPct *prometheus.GaugeVec
}

// New creates all analyzer metrics on the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all analyzer metrics on the given registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsCollectSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lactra_records_collect_seconds",
			Help:    "Time spent fetching test-day records from the herd API",
			Buckets: prometheus.DefBuckets,
		}),

		FitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lactra_fit_seconds",
			Help:    "Time spent fitting the lactation curve",
			Buckets: prometheus.DefBuckets,
		}),

		KPIComputeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lactra_kpi_compute_seconds",
			Help:    "Time spent deriving KPIs from the fitted curve",
			Buckets: prometheus.DefBuckets,
		}),

		FitEvaluations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lactra_fit_evaluations",
			Help:    "Residual evaluations used per curve fit",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),

		AnalysesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lactra_analyses_total",
			Help: "Total analyses by outcome (ok, insufficient_data, divergence, undefined_kpi, error)",
		}, []string{"outcome"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lactra_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),

		PeakYield: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lactra_peak_yield_kg",
			Help: "Latest fitted peak daily yield per animal",
		}, []string{"animal"}),

		TimeToPeakDays: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lactra_time_to_peak_days",
			Help: "Latest fitted time to peak yield per animal",
		}, []string{"animal"}),

		PersistencyPct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lactra_persistency_pct",
			Help: "Latest lactation persistency per animal",
		}, []string{"animal"}),
	}
}

// RecordCollect records the time spent fetching records.
func (m *Metrics) RecordCollect(seconds float64) {
	m.RecordsCollectSeconds.Observe(seconds)
}

// RecordFit records the duration and evaluation count of one fit.
func (m *Metrics) RecordFit(seconds float64, evaluations int) {
	m.FitSeconds.Observe(seconds)
	m.FitEvaluations.Observe(float64(evaluations))
}

// RecordKPI records the time spent deriving KPIs.
func (m *Metrics) RecordKPI(seconds float64) {
	m.KPIComputeSeconds.Observe(seconds)
}

// RecordAnalysis increments the analysis counter for an outcome.
func (m *Metrics) RecordAnalysis(outcome string) {
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// SetKPIs publishes the headline KPIs for an animal.
func (m *Metrics) SetKPIs(animal string, peakYield, timeToPeak, persistency float64) {
	m.PeakYield.WithLabelValues(animal).Set(peakYield)
	m.TimeToPeakDays.WithLabelValues(animal).Set(timeToPeak)
	m.PersistencyPct.WithLabelValues(animal).Set(persistency)
}
