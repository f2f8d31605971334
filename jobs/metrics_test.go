package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestTaskMetricsMiddlewareCountsRuns(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewTaskMetrics(registry)
	mw := metrics.Middleware()

	ok := mw(asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		return nil
	}))
	failing := mw(asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		return errors.New("boom")
	}))

	task := asynq.NewTask(TaskTypeLowStockNotify, nil)
	require.NoError(t, ok.ProcessTask(context.Background(), task))
	require.Error(t, failing.ProcessTask(context.Background(), task))

	families, err := registry.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "tradewind_job_runs_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" {
					counts[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, float64(1), counts["success"])
	require.Equal(t, float64(1), counts["failure"])
}

func TestNilTaskMetricsMiddlewarePassesThrough(t *testing.T) {
	var metrics *TaskMetrics
	handler := metrics.Middleware()(asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		return nil
	}))
	require.NoError(t, handler.ProcessTask(context.Background(), asynq.NewTask("any", nil)))
}
