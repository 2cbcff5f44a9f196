package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// index engine.
type Metrics struct {
	GridsRead     prometheus.Counter
	GridsWritten  prometheus.Counter
	MissingInputs prometheus.Counter
	WriteRetries  prometheus.Counter
	EngineRunning prometheus.Gauge

	// Climatology metrics.
	FitFailures prometheus.Counter // pixels/slots left no-data by an undefined fit

	// Drought event metrics.
	EventsClosed prometheus.Counter

	// Per-timestep metrics.
	TimestepsCommitted prometheus.Counter
	TimestepDuration   prometheus.Histogram
}

// NewMetrics creates and registers all engine metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		GridsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "grids_read_total",
			Help:      "Total grids read from the raster store.",
		}),
		GridsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "grids_written_total",
			Help:      "Total grids committed to the raster store.",
		}),
		MissingInputs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "missing_inputs_total",
			Help:      "Timesteps skipped or held because a required raster was absent.",
		}),
		WriteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "write_retries_total",
			Help:      "Grid write attempts that failed and were retried.",
		}),
		EngineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dryes",
			Name:      "engine_running",
			Help:      "1 while a run is active, 0 when finished or shut down.",
		}),
		FitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "fit_failures_total",
			Help:      "Pixel/slot climatology fits left no-data for lack of historical support.",
		}),
		EventsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "events_closed_total",
			Help:      "Qualifying drought events closed across all pixels.",
		}),
		TimestepsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dryes",
			Name:      "timesteps_committed_total",
			Help:      "Index timesteps fully computed and committed.",
		}),
		TimestepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dryes",
			Name:      "timestep_duration_seconds",
			Help:      "Duration of one complete index timestep: read, compute, commit.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	prometheus.MustRegister(
		m.GridsRead,
		m.GridsWritten,
		m.MissingInputs,
		m.WriteRetries,
		m.EngineRunning,
		m.FitFailures,
		m.EventsClosed,
		m.TimestepsCommitted,
		m.TimestepDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		GridsRead:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "grids_read_total"}),
		GridsWritten:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "grids_written_total"}),
		MissingInputs:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "missing_inputs_total"}),
		WriteRetries:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "write_retries_total"}),
		EngineRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "dryes", Name: "engine_running"}),
		FitFailures:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "fit_failures_total"}),
		EventsClosed:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "events_closed_total"}),
		TimestepsCommitted: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "dryes", Name: "timesteps_committed_total"}),
		TimestepDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "dryes", Name: "timestep_duration_seconds"}),
	}
}
