package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStockNotify is the task type for low-stock alert hand-off.
	TaskTypeLowStockNotify = "stock:low_stock_notify"
	// TaskTypeIdempotencyCleanup is the cron task pruning processed keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LowStockNotifyPayload carries the alert snapshot into the queue.
type LowStockNotifyPayload struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	ProductID    int64     `json:"product_id"`
	VariantID    int64     `json:"variant_id,omitempty"`
	LocationID   int64     `json:"location_id"`
	CurrentStock int64     `json:"current_stock"`
	Threshold    int64     `json:"threshold"`
	RaisedAt     time.Time `json:"raised_at"`
}

// NewLowStockNotifyTask constructs an Asynq task.
func NewLowStockNotifyTask(payload LowStockNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockNotify, data), nil
}

// NewIdempotencyCleanupTask constructs the cron cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// LowStockNotifyHandler composes the notification body. Delivery itself
// is owned by an external channel service; this handler formats and
// hands the message over via the log until that integration lands.
type LowStockNotifyHandler struct {
	logger  *slog.Logger
	printer *message.Printer
}

// NewLowStockNotifyHandler constructs the handler.
func NewLowStockNotifyHandler(logger *slog.Logger) *LowStockNotifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LowStockNotifyHandler{logger: logger, printer: message.NewPrinter(language.English)}
}

// ProcessTask handles TaskTypeLowStockNotify tasks.
func (h *LowStockNotifyHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload LowStockNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	body := h.ComposeBody(payload)
	h.logger.Info("low stock notification",
		slog.String("tenant_id", payload.TenantID.String()),
		slog.Int64("product_id", payload.ProductID),
		slog.Int64("location_id", payload.LocationID),
		slog.String("body", body))
	return nil
}

// ComposeBody renders the human-readable notification text with
// locale-aware number formatting.
func (h *LowStockNotifyHandler) ComposeBody(payload LowStockNotifyPayload) string {
	if payload.VariantID != 0 {
		return h.printer.Sprintf("Product %d (variant %d) at location %d is low on stock: %d on hand, threshold %d.",
			payload.ProductID, payload.VariantID, payload.LocationID, payload.CurrentStock, payload.Threshold)
	}
	return h.printer.Sprintf("Product %d at location %d is low on stock: %d on hand, threshold %d.",
		payload.ProductID, payload.LocationID, payload.CurrentStock, payload.Threshold)
}

// KeyCleaner is the slice of the idempotency store the cron task uses.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupHandler prunes idempotency keys past retention.
type IdempotencyCleanupHandler struct {
	store     KeyCleaner
	retention time.Duration
	logger    *slog.Logger
}

// NewIdempotencyCleanupHandler constructs the handler.
func NewIdempotencyCleanupHandler(store KeyCleaner, retention time.Duration, logger *slog.Logger) *IdempotencyCleanupHandler {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupHandler{store: store, retention: retention, logger: logger}
}

// ProcessTask handles TaskTypeIdempotencyCleanup tasks.
func (h *IdempotencyCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h.store == nil {
		return asynq.SkipRetry
	}
	if err := h.store.Cleanup(ctx, h.retention); err != nil {
		h.logger.Warn("idempotency cleanup", slog.Any("error", err))
		return err
	}
	return nil
}
