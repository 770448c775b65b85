package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ChatRequests      *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	StorageErrors     *prometheus.CounterVec
	CompletionLatency prometheus.Histogram
	HistoryLength     prometheus.Histogram

	stages *stageWindow
}

// NewMetrics registers instruments with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat endpoint requests by method and outcome.",
		}, []string{"method", "outcome"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Completion provider errors by provider and code.",
		}, []string{"provider", "code"}),
		StorageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion provider latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		HistoryLength: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_length",
			Help:      "Persisted history length after each write.",
			Buckets:   prometheus.LinearBuckets(2, 2, 10),
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveCompletionLatency(d time.Duration) {
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageComplete, float64(d.Microseconds())/1000)
}

// ObserveStage records a pipeline stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveIndicator counts a notable pipeline event, e.g. a fallback reply.
func (m *Metrics) ObserveIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

// SnapshotStages returns rolling per-stage latency percentiles.
func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
