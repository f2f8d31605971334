package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics exposes Prometheus collectors for background task runs.
type TaskMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	defaultTaskMetricsOnce sync.Once
	defaultTaskMetrics     *TaskMetrics
)

// NewTaskMetrics registers the task metrics against the provided
// registerer. When the registerer is nil the default Prometheus
// registerer is used and the collectors are shared process-wide.
func NewTaskMetrics(registerer prometheus.Registerer) *TaskMetrics {
	if registerer == nil {
		defaultTaskMetricsOnce.Do(func() {
			defaultTaskMetrics = buildTaskMetrics(prometheus.DefaultRegisterer)
		})
		return defaultTaskMetrics
	}
	return buildTaskMetrics(registerer)
}

func buildTaskMetrics(registerer prometheus.Registerer) *TaskMetrics {
	m := &TaskMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradewind_job_runs_total",
			Help: "Background task runs partitioned by task type and status.",
		}, []string{"task", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradewind_job_duration_seconds",
			Help:    "Background task processing duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
	}
	registerer.MustRegister(m.runs, m.duration)
	return m
}

// Middleware instruments every task the mux processes.
func (m *TaskMetrics) Middleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			if m == nil {
				return next.ProcessTask(ctx, t)
			}
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			status := "success"
			if err != nil {
				status = "failure"
			}
			m.runs.WithLabelValues(t.Type(), status).Inc()
			m.duration.WithLabelValues(t.Type()).Observe(time.Since(start).Seconds())
			return err
		})
	}
}
