// Package metrics exposes Prometheus collectors for the scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainflow/internal/domain"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	chains     *prometheus.CounterVec
	jobs       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainflow",
			Name:      "task_executions_total",
			Help:      "Task executions by task kind and outcome.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainflow",
			Name:      "task_execution_duration_seconds",
			Help:      "Duration of task HTTP calls.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 120, 300},
		}, []string{"kind"}),
		chains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainflow",
			Name:      "chain_runs_total",
			Help:      "Finished chain runs by final status.",
		}, []string{"status"}),
		jobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainflow",
			Name:      "scheduled_jobs",
			Help:      "Jobs currently armed in the scheduler.",
		}),
	}
	reg.MustRegister(m.executions, m.duration, m.chains, m.jobs)
	return m
}

func (m *Metrics) ObserveExecution(kind domain.TaskKind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(kind), status).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) ObserveChain(status string) {
	if m == nil {
		return
	}
	m.chains.WithLabelValues(status).Inc()
}

func (m *Metrics) SetJobs(n int) {
	if m == nil {
		return
	}
	m.jobs.Set(float64(n))
}
