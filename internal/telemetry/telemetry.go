// Package telemetry exposes Prometheus metrics for the workflow
// engine. Served on /metrics via promhttp.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts step executions, oracle calls, and finished runs.
// It satisfies the engine's metrics hook.
type Metrics struct {
	steps       *prometheus.CounterVec
	oracleCalls *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	registry    *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crewline_steps_executed_total",
			Help: "Workflow steps executed, by worker and outcome.",
		}, []string{"worker", "outcome"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crewline_oracle_calls_total",
			Help: "Planning oracle calls, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crewline_runs_total",
			Help: "Finished workflow runs, by termination reason.",
		}, []string{"termination"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crewline_run_duration_seconds",
			Help:    "Wall-clock duration of workflow runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"termination"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.steps, m.oracleCalls, m.runs, m.runDuration)
	return m
}

func (m *Metrics) StepExecuted(workerID string, ok bool) {
	m.steps.WithLabelValues(workerID, outcome(ok)).Inc()
}

func (m *Metrics) OracleCall(kind string, failed bool) {
	m.oracleCalls.WithLabelValues(kind, outcome(!failed)).Inc()
}

func (m *Metrics) RunFinished(termination string, duration time.Duration) {
	m.runs.WithLabelValues(termination).Inc()
	m.runDuration.WithLabelValues(termination).Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving this collector's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
