package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementTypeIn represents an inbound movement.
	MovementTypeIn MovementType = "in"
	// MovementTypeOut represents an outbound movement.
	MovementTypeOut MovementType = "out"
	// MovementTypeTransfer marks one leg of a location transfer.
	MovementTypeTransfer MovementType = "transfer"
	// MovementTypeAdjustment indicates manual adjustments.
	MovementTypeAdjustment MovementType = "adjustment"
	// MovementTypeAudit records physical count corrections.
	MovementTypeAudit MovementType = "audit"
)

// Valid reports whether the type belongs to the closed vocabulary.
func (t MovementType) Valid() bool {
	switch t {
	case MovementTypeIn, MovementTypeOut, MovementTypeTransfer, MovementTypeAdjustment, MovementTypeAudit:
		return true
	}
	return false
}

// MovementReason is the closed vocabulary of business reasons behind a movement.
type MovementReason string

const (
	ReasonPurchase             MovementReason = "purchase"
	ReasonSale                 MovementReason = "sale"
	ReasonReturn               MovementReason = "return"
	ReasonTransferIn           MovementReason = "transfer_in"
	ReasonTransferOut          MovementReason = "transfer_out"
	ReasonAdjustmentPositive   MovementReason = "adjustment_positive"
	ReasonAdjustmentNegative   MovementReason = "adjustment_negative"
	ReasonAuditCorrection      MovementReason = "audit_correction"
	ReasonDamaged              MovementReason = "damaged"
	ReasonExpired              MovementReason = "expired"
	ReasonTheft                MovementReason = "theft"
	ReasonPromotion            MovementReason = "promotion"
	ReasonSample               MovementReason = "sample"
	ReasonPurchaseOrderReceipt MovementReason = "purchase_order_receipt"
)

// Valid reports whether the reason belongs to the closed vocabulary.
func (r MovementReason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonSale, ReasonReturn, ReasonTransferIn, ReasonTransferOut,
		ReasonAdjustmentPositive, ReasonAdjustmentNegative, ReasonAuditCorrection,
		ReasonDamaged, ReasonExpired, ReasonTheft, ReasonPromotion, ReasonSample,
		ReasonPurchaseOrderReceipt:
		return true
	}
	return false
}

// Loss reports whether the reason records shrinkage (damage, expiry, theft).
func (r MovementReason) Loss() bool {
	return r == ReasonDamaged || r == ReasonExpired || r == ReasonTheft
}

// overrideMovement reports whether a movement may drive the projected
// quantity toward zero without the insufficiency check blocking it.
// Adjustments, audits and loss write-offs qualify; ordinary depletion
// (sales, transfers out) does not.
func overrideMovement(t MovementType, r MovementReason) bool {
	return t == MovementTypeAdjustment || t == MovementTypeAudit || r.Loss()
}

// LevelKey identifies a single stock level projection row.
type LevelKey struct {
	TenantID   uuid.UUID
	ProductID  int64
	VariantID  int64 // 0 when the product has no variants
	LocationID int64
}

// String renders the key for logs and cache entries.
func (k LevelKey) String() string {
	return fmt.Sprintf("%s:%d:%d:%d", k.TenantID, k.ProductID, k.VariantID, k.LocationID)
}

// MovementEvent is one immutable, append-only ledger entry. Events are
// never mutated or deleted; corrections are recorded as new events.
type MovementEvent struct {
	ID             int64
	TenantID       uuid.UUID
	ProductID      int64
	VariantID      int64
	LocationID     int64
	Type           MovementType
	Reason         MovementReason
	QuantityChange int64
	CostPerUnit    float64
	RefType        string
	RefID          int64
	BatchNumber    string
	SerialNumber   string
	Note           string
	ActorID        int64
	OccurredAt     time.Time
}

// Key returns the projection key affected by the event.
func (e MovementEvent) Key() LevelKey {
	return LevelKey{TenantID: e.TenantID, ProductID: e.ProductID, VariantID: e.VariantID, LocationID: e.LocationID}
}

// StockLevel is the materialized projection for one key. It is written
// exclusively by the apply step; no other code path mutates it.
type StockLevel struct {
	TenantID       uuid.UUID
	ProductID      int64
	VariantID      int64
	LocationID     int64
	CurrentStock   int64
	ReservedStock  int64
	CostPerUnit    float64
	LastMovementAt time.Time
	LastCountedAt  time.Time
}

// Key returns the projection key of the row.
func (l StockLevel) Key() LevelKey {
	return LevelKey{TenantID: l.TenantID, ProductID: l.ProductID, VariantID: l.VariantID, LocationID: l.LocationID}
}

// AvailableStock is current minus reserved.
func (l StockLevel) AvailableStock() int64 {
	return l.CurrentStock - l.ReservedStock
}

// TotalCost values the on-hand quantity at the current unit cost.
func (l StockLevel) TotalCost() float64 {
	return float64(l.CurrentStock) * l.CostPerUnit
}

// LowStockAlert tracks whether a threshold breach is active for a key.
// Rows are deactivated when stock recovers, never deleted.
type LowStockAlert struct {
	ID            int64
	TenantID      uuid.UUID
	ProductID     int64
	VariantID     int64
	LocationID    int64
	Threshold     int64
	CurrentStock  int64
	IsActive      bool
	LastAlertedAt time.Time
	Cooldown      time.Duration
}

// Key returns the projection key of the alert row.
func (a LowStockAlert) Key() LevelKey {
	return LevelKey{TenantID: a.TenantID, ProductID: a.ProductID, VariantID: a.VariantID, LocationID: a.LocationID}
}

// MovementInput describes a requested stock change.
type MovementInput struct {
	TenantID       uuid.UUID
	ProductID      int64
	VariantID      int64
	LocationID     int64
	Type           MovementType
	Reason         MovementReason
	QuantityChange int64
	CostPerUnit    float64
	RefType        string
	RefID          int64
	BatchNumber    string
	SerialNumber   string
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// Key returns the projection key the input targets.
func (in MovementInput) Key() LevelKey {
	return LevelKey{TenantID: in.TenantID, ProductID: in.ProductID, VariantID: in.VariantID, LocationID: in.LocationID}
}

// ReservationInput describes a reserve or release request.
type ReservationInput struct {
	TenantID   uuid.UUID
	ProductID  int64
	VariantID  int64
	LocationID int64
	Quantity   int64
	ActorID    int64
}

// MovementFilter narrows ledger listings.
type MovementFilter struct {
	TenantID   uuid.UUID
	ProductID  int64
	VariantID  int64
	LocationID int64
	RefType    string
	RefID      int64
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// AlertFilter narrows low-stock alert listings.
type AlertFilter struct {
	LocationID int64
	ActiveOnly bool
	Page       int
	PerPage    int
}

var (
	// ErrStockInsufficient indicates a movement would drive stock negative.
	ErrStockInsufficient = errors.New("stock: insufficient quantity")
	// ErrInvalidReference indicates a dangling product/location/reference id.
	ErrInvalidReference = errors.New("stock: reference does not exist")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("stock: invalid input")
	// ErrLockTimeout indicates the per-key lock could not be acquired in time. Retryable.
	ErrLockTimeout = errors.New("stock: lock wait timed out")
	// ErrContention indicates the transaction lost a concurrency conflict. Retryable.
	ErrContention = errors.New("stock: concurrent update conflict")
	// ErrLevelNotFound indicates no projection row exists for the key.
	ErrLevelNotFound = errors.New("stock: level not found")
	// ErrAlertNotFound indicates no alert row exists for the key.
	ErrAlertNotFound = errors.New("stock: alert not found")
)

// StockInsufficientError carries the projection state at rejection time.
type StockInsufficientError struct {
	Key       LevelKey
	Current   int64
	Requested int64
}

func (e *StockInsufficientError) Error() string {
	return fmt.Sprintf("stock: insufficient quantity for %s: have %d, requested %d", e.Key, e.Current, e.Requested)
}

// Is makes the error match ErrStockInsufficient under errors.Is.
func (e *StockInsufficientError) Is(target error) bool {
	return target == ErrStockInsufficient
}

// Retryable reports whether the caller may retry the same input with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrContention)
}
