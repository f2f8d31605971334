package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LowStockRaisedEvent is emitted when an alert activates or its cooldown
// window elapses while stock remains at or below the threshold.
type LowStockRaisedEvent struct {
	TenantID     uuid.UUID
	ProductID    int64
	VariantID    int64
	LocationID   int64
	CurrentStock int64
	Threshold    int64
	RaisedAt     time.Time
}

// NotifierPort hands raised alerts to the notification pipeline.
// Delivery itself (email/SMS) lives outside this module.
type NotifierPort interface {
	NotifyLowStock(ctx context.Context, evt LowStockRaisedEvent) error
}

// SerialIndexPort consults the per-unit serial/lot index when a movement
// carries a serial number. The index is owned elsewhere; a nil port
// means serialization is disabled.
type SerialIndexPort interface {
	CheckSerial(ctx context.Context, tenantID uuid.UUID, productID int64, serial string, inbound bool) error
}

// MetricsPort records domain counters for observability.
type MetricsPort interface {
	RecordMovement(movementType string)
	RecordStockInsufficient()
	RecordAlertRaised()
}
