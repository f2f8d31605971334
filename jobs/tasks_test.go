package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestLowStockNotifyTaskRoundTrip(t *testing.T) {
	payload := LowStockNotifyPayload{
		TenantID:     uuid.New(),
		ProductID:    42,
		LocationID:   3,
		CurrentStock: 1250,
		Threshold:    2000,
		RaisedAt:     time.Now().UTC(),
	}
	task, err := NewLowStockNotifyTask(payload)
	require.NoError(t, err)
	require.Equal(t, TaskTypeLowStockNotify, task.Type())

	handler := NewLowStockNotifyHandler(nil)
	require.NoError(t, handler.ProcessTask(context.Background(), task))
}

func TestComposeBodyFormatsQuantities(t *testing.T) {
	handler := NewLowStockNotifyHandler(nil)

	body := handler.ComposeBody(LowStockNotifyPayload{
		ProductID: 42, LocationID: 3, CurrentStock: 1250, Threshold: 2000,
	})
	require.Contains(t, body, "Product 42")
	require.Contains(t, body, "1,250 on hand")
	require.Contains(t, body, "threshold 2,000")

	body = handler.ComposeBody(LowStockNotifyPayload{
		ProductID: 42, VariantID: 7, LocationID: 3, CurrentStock: 5, Threshold: 10,
	})
	require.Contains(t, body, "variant 7")
}

func TestLowStockNotifySkipsMalformedPayload(t *testing.T) {
	handler := NewLowStockNotifyHandler(nil)
	task := asynq.NewTask(TaskTypeLowStockNotify, []byte("{not json"))
	err := handler.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	olderThan time.Duration
	err       error
	calls     int
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.calls++
	f.olderThan = olderThan
	return f.err
}

func TestIdempotencyCleanupHandler(t *testing.T) {
	cleaner := &fakeCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, 48*time.Hour, nil)

	require.NoError(t, handler.ProcessTask(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 1, cleaner.calls)
	require.Equal(t, 48*time.Hour, cleaner.olderThan)

	cleaner.err = errors.New("db down")
	require.Error(t, handler.ProcessTask(context.Background(), NewIdempotencyCleanupTask()))
}

func TestIdempotencyCleanupDefaultRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	handler := NewIdempotencyCleanupHandler(cleaner, 0, nil)
	require.NoError(t, handler.ProcessTask(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 7*24*time.Hour, cleaner.olderThan)
}
