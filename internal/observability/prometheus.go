package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// PromMetrics is the process-wide Prometheus registry plus the gauge,
// counter, and histogram vectors the sandbox pool and pipeline report
// against: pool idle/total per language (there is no separate active
// gauge), pipeline runs/stage-latencies/failures per stage. Distinct
// from MetricsCollector, which is an in-process ring buffer kept for
// internal queries — this is the externally-scraped surface.
type PromMetrics struct {
	Registry *prometheus.Registry

	PoolIdle  *prometheus.GaugeVec
	PoolTotal *prometheus.GaugeVec

	PipelineRuns     *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	StageLatencySecs *prometheus.HistogramVec
}

// NewPromMetrics constructs and registers every metric against a fresh
// registry.
func NewPromMetrics() *PromMetrics {
	reg := prometheus.NewRegistry()

	m := &PromMetrics{
		Registry: reg,
		PoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gradesvc",
			Subsystem: "pool",
			Name:      "idle_sandboxes",
			Help:      "Number of idle sandbox containers, per language.",
		}, []string{"language"}),
		PoolTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gradesvc",
			Subsystem: "pool",
			Name:      "total_sandboxes",
			Help:      "Total sandbox containers (idle + active), per language.",
		}, []string{"language"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gradesvc",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline executions, by terminal status.",
		}, []string{"status"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gradesvc",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total stage failures, by stage tag.",
		}, []string{"stage"}),
		StageLatencySecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gradesvc",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds, by stage tag.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	reg.MustRegister(m.PoolIdle, m.PoolTotal, m.PipelineRuns, m.StageFailures, m.StageLatencySecs)
	return m
}

// Handler returns the promhttp handler serving this registry's metrics,
// mounted by the CLI's `pool up` command at /metrics.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
