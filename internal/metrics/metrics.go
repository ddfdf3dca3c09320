// Package metrics provides Prometheus metrics collection for the RSF risk
// service. It defines the prediction, model and HTTP metrics exposed via the
// Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the risk service.
type Metrics struct {
	// Prediction metrics
	MLPredictions      prometheus.Counter     // Total number of risk predictions made
	MLFailures         prometheus.Counter     // Total number of rejected or failed predictions
	MLLatency          prometheus.Histogram   // Prediction latency in seconds
	MLPredictionScores prometheus.Histogram   // Distribution of risk scores
	MLRiskGroups       *prometheus.CounterVec // Predictions per risk stratum
	MLCacheHits        prometheus.Counter     // Prediction cache hits
	MLCacheMisses      prometheus.Counter     // Prediction cache misses

	// Model metrics
	MLModelAge    prometheus.Gauge   // Age of the loaded artifact in seconds
	MLModelTrees  prometheus.Gauge   // Number of trees in the loaded ensemble
	MLModelReload prometheus.Counter // Successful model reloads
	MLStratumPSI  prometheus.Gauge   // Population Stability Index of recent strata

	// API metrics
	HTTPRequests *prometheus.CounterVec // Requests by endpoint and status code
	WSSessions   prometheus.Gauge       // Open WebSocket sessions

	// Storage metrics
	StorageErrors prometheus.Counter // Failed prediction audit writes
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsf_predictions_total",
			Help: "Total number of risk predictions made",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsf_prediction_failures_total",
			Help: "Total number of rejected or failed predictions",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsf_prediction_latency_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsf_prediction_scores",
			Help:    "Distribution of ensemble risk scores",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		MLRiskGroups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rsf_risk_group_total",
			Help: "Predictions per risk stratum",
		}, []string{"group"}),
		MLCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsf_cache_hits_total",
			Help: "Prediction cache hits",
		}),
		MLCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsf_cache_misses_total",
			Help: "Prediction cache misses",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rsf_model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		MLModelTrees: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rsf_model_trees",
			Help: "Number of trees in the loaded ensemble",
		}),
		MLModelReload: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsf_model_reloads_total",
			Help: "Number of successful model reloads",
		}),
		MLStratumPSI: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rsf_stratum_psi",
			Help: "Population Stability Index of recent risk strata against training quartiles",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rsf_http_requests_total",
			Help: "HTTP requests by endpoint and status code",
		}, []string{"endpoint", "code"}),
		WSSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rsf_ws_sessions",
			Help: "Open WebSocket scoring sessions",
		}),
		StorageErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "rsf_storage_errors_total",
			Help: "Failed prediction audit writes",
		}),
	}
}
