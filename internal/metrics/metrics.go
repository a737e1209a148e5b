// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline, venue providers, and replay engine. Label values come from
// bounded sets only; free-form strings (symbols excepted) never become
// labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantfall/perpintel/internal/core"
)

// Pipeline metrics
var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_pipeline_runs_total",
		Help: "Total pipeline runs by symbol and outcome",
	}, []string{"symbol", "outcome"})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpintel_pipeline_duration_ms",
		Help:    "End-to-end pipeline run duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"symbol"})

	PipelineBias = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_pipeline_bias_total",
		Help: "Final bias distribution of completed pipeline runs",
	}, []string{"symbol", "bias"})

	PipelineWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_pipeline_warnings_total",
		Help: "Warnings attached to completed pipeline runs",
	}, []string{"symbol"})

	GatedSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_gated_signals_total",
		Help: "Signals excluded by reliability gating",
	}, []string{"signal"})
)

// Provider metrics
var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_provider_requests_total",
		Help: "Venue data requests by exchange, series, and outcome",
	}, []string{"exchange", "series", "outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpintel_provider_latency_ms",
		Help:    "Venue request latency in milliseconds",
		Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"exchange", "series"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_cache_hits_total",
		Help: "Market-data cache hits by series",
	}, []string{"series"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_cache_misses_total",
		Help: "Market-data cache misses by series",
	}, []string{"series"})
)

// Replay and labeling metrics
var (
	ReplaySamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_replay_samples_total",
		Help: "Replay samples by result",
	}, []string{"result"})

	ReplayBatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpintel_replay_batches_active",
		Help: "Replay batches currently running or paused",
	})

	OutcomeLabels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_outcome_labels_total",
		Help: "Outcome labels assigned to replayed states",
	}, []string{"label"})
)

// Config and transport metrics
var (
	ConfigVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpintel_config_version",
		Help: "Active pipeline config version",
	})

	ConfigUpdateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_config_update_failures_total",
		Help: "Rejected config updates by error kind",
	}, []string{"kind"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpintel_websocket_clients",
		Help: "Connected websocket state subscribers",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpintel_http_requests_total",
		Help: "HTTP requests by method, route, and status code",
	}, []string{"method", "route", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpintel_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"method", "route", "status_code"})
)

// Outcome maps an error to its bounded outcome label. Error kinds are a
// closed set already, so they are safe as label values.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(core.KindOf(err))
}

// RecordPipelineRun records one pipeline run and, on success, its bias and
// warning count.
func RecordPipelineRun(symbol string, bias string, warnings int, durationMs float64, err error) {
	PipelineRuns.WithLabelValues(symbol, Outcome(err)).Inc()
	PipelineDuration.WithLabelValues(symbol).Observe(durationMs)
	if err == nil {
		PipelineBias.WithLabelValues(symbol, bias).Inc()
		PipelineWarnings.WithLabelValues(symbol).Add(float64(warnings))
	}
}

// RecordProviderRequest records one venue fetch.
func RecordProviderRequest(exchange core.Exchange, series string, durationMs float64, err error) {
	ProviderRequests.WithLabelValues(string(exchange), series, Outcome(err)).Inc()
	ProviderLatency.WithLabelValues(string(exchange), series).Observe(durationMs)
}

// RecordCacheLookup records a market-data cache hit or miss.
func RecordCacheLookup(series string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(series).Inc()
	} else {
		CacheMisses.WithLabelValues(series).Inc()
	}
}

// RecordReplaySample records one replay sample result (completed, skipped,
// or failed).
func RecordReplaySample(result string) {
	ReplaySamples.WithLabelValues(result).Inc()
}

// RecordOutcomeLabel records one assigned outcome label.
func RecordOutcomeLabel(label core.OutcomeLabel) {
	OutcomeLabels.WithLabelValues(string(label)).Inc()
}

// SetConfigVersion publishes the active config version.
func SetConfigVersion(version int) {
	ConfigVersion.Set(float64(version))
}

// RecordConfigUpdateFailure records a rejected config write.
func RecordConfigUpdateFailure(err error) {
	ConfigUpdateFailures.WithLabelValues(string(core.KindOf(err))).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route, statusCode string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, route, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, route, statusCode).Observe(durationMs)
}
