package procedure

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics records run metrics under the "procedure" namespace:
//
//   - steps_total{step,status}: dispatched steps by outcome (success, error, reported)
//   - step_latency_ms{step,status}: step execution time
//   - stage (gauge): stage counter of the current run
//   - breakpoints_total{action}: breakpoints reached
//   - failures_total{kind}: failed runs by cause
//
// Expose them with promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := procedure.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	steps       *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec
	stage       prometheus.Gauge
	breakpoints *prometheus.CounterVec
	failures    *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the metrics with registry. A nil registry
// means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procedure",
			Name:      "steps_total",
			Help:      "Steps dispatched, by step name and outcome",
		}, []string{"step", "status"}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "procedure",
			Name:      "step_latency_ms",
			Help:      "Step execution time in milliseconds",
			Buckets:   []float64{1, 10, 100, 1000, 10000, 60000, 600000, 3600000},
		}, []string{"step", "status"}),
		stage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "procedure",
			Name:      "stage",
			Help:      "Stage counter of the running context",
		}),
		breakpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procedure",
			Name:      "breakpoints_total",
			Help:      "Breakpoints reached, by action",
		}, []string{"action"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procedure",
			Name:      "failures_total",
			Help:      "Failed runs, by failure kind",
		}, []string{"kind"}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStep counts a dispatched step and observes its latency.
func (pm *PrometheusMetrics) RecordStep(step, status string, latency time.Duration) {
	if !pm.on() {
		return
	}
	pm.steps.WithLabelValues(step, status).Inc()
	pm.stepLatency.WithLabelValues(step, status).Observe(float64(latency.Milliseconds()))
}

// SetStage publishes the stage counter.
func (pm *PrometheusMetrics) SetStage(stage int) {
	if !pm.on() {
		return
	}
	pm.stage.Set(float64(stage))
}

// IncBreakpoint counts a breakpoint reached with action.
func (pm *PrometheusMetrics) IncBreakpoint(action Action) {
	if !pm.on() {
		return
	}
	pm.breakpoints.WithLabelValues(string(action)).Inc()
}

// IncFailure counts a failed run.
func (pm *PrometheusMetrics) IncFailure(kind string) {
	if !pm.on() {
		return
	}
	pm.failures.WithLabelValues(kind).Inc()
}

// Disable stops recording until Enable is called.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
