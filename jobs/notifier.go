package jobs

import (
	"context"

	"github.com/tradewind-erp/tradewind-erp/internal/stock"
)

// LowStockNotifier adapts the queue client to the stock module's
// notifier port.
type LowStockNotifier struct {
	client *Client
}

// NewLowStockNotifier constructs the adapter.
func NewLowStockNotifier(client *Client) *LowStockNotifier {
	return &LowStockNotifier{client: client}
}

// NotifyLowStock enqueues a notification task for the raised alert.
func (n *LowStockNotifier) NotifyLowStock(ctx context.Context, evt stock.LowStockRaisedEvent) error {
	if n == nil || n.client == nil {
		return nil
	}
	_, err := n.client.EnqueueLowStockNotify(ctx, LowStockNotifyPayload{
		TenantID:     evt.TenantID,
		ProductID:    evt.ProductID,
		VariantID:    evt.VariantID,
		LocationID:   evt.LocationID,
		CurrentStock: evt.CurrentStock,
		Threshold:    evt.Threshold,
		RaisedAt:     evt.RaisedAt,
	})
	return err
}
