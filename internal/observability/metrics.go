package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "uavo_aggregator"

// Metrics holds the Prometheus counters, histograms, and gauges for aggregation runs.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,failure}
	RunDuration     prometheus.Histogram
	LastSuccess     prometheus.Gauge
	PipelineRunning prometheus.Gauge

	ObservationsFetched prometheus.Counter
	ObservationsInvalid prometheus.Counter
	ClustersBuilt       prometheus.Counter
	ClusterSize         prometheus.Histogram

	IncidentsPersisted prometheus.Counter
	IncidentsRejected  prometheus.Counter
	IncidentsDuplicate prometheus.Counter

	// Summary generation metrics.
	GenerationRequests *prometheus.CounterVec // labels: outcome={generated,fallback,disabled}
	GenerationCache    *prometheus.CounterVec // labels: result={hit,miss}
	GenerationDuration prometheus.Histogram
	GenerationEnabled  prometheus.Gauge

	PublishErrors *prometheus.CounterVec // labels: sink={kafka,mqtt}
}

// NewMetrics creates and registers all aggregation metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Aggregation runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-cluster-synthesize-write run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		ObservationsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_fetched_total",
			Help:      "Observations read from the silver layer.",
		}),
		ObservationsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_invalid_total",
			Help:      "Observations skipped for invalid coordinates, ids or timestamps.",
		}),
		ClustersBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clusters_total",
			Help:      "Clusters produced by the clustering pass.",
		}),
		ClusterSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cluster_size",
			Help:      "Observations per cluster.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		IncidentsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_persisted_total",
			Help:      "Incidents newly written to the gold layer.",
		}),
		IncidentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_rejected_total",
			Help:      "Incidents that failed output validation.",
		}),
		IncidentsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_duplicate_total",
			Help:      "Incidents skipped because their id was already present.",
		}),
		GenerationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Summary generation attempts by outcome.",
		}, []string{"outcome"}),
		GenerationCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_cache_total",
			Help:      "Summary cache lookups by result.",
		}, []string{"result"}),
		GenerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Summary generation call duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		GenerationEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_enabled",
			Help:      "1 when summary generation is enabled, 0 otherwise.",
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed incident publications by sink.",
		}, []string{"sink"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.RunDuration,
		m.LastSuccess,
		m.PipelineRunning,
		m.ObservationsFetched,
		m.ObservationsInvalid,
		m.ClustersBuilt,
		m.ClusterSize,
		m.IncidentsPersisted,
		m.IncidentsRejected,
		m.IncidentsDuplicate,
		m.GenerationRequests,
		m.GenerationCache,
		m.GenerationDuration,
		m.GenerationEnabled,
		m.PublishErrors,
	}
}
