package purchasing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the purchase order lifecycle status.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPending           Status = "pending"
	StatusApproved          Status = "approved"
	StatusShipped           Status = "shipped"
	StatusPartiallyReceived Status = "partially_received"
	StatusReceived          Status = "received"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// statusTransitions is the full transition table. Adding a state means
// one edit here, not a hunt through call sites.
var statusTransitions = map[Status][]Status{
	StatusDraft:             {StatusPending, StatusCancelled},
	StatusPending:           {StatusApproved, StatusCancelled},
	StatusApproved:          {StatusShipped, StatusCancelled},
	StatusShipped:           {StatusReceived, StatusPartiallyReceived},
	StatusPartiallyReceived: {StatusReceived, StatusShipped},
	StatusReceived:          {StatusCompleted},
	StatusCompleted:         {},
	StatusCancelled:         {},
}

// Valid reports whether the status belongs to the lifecycle.
func (s Status) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(statusTransitions[s]) == 0 && s.Valid()
}

// CanTransitionTo reports whether the table allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// receiving reports whether entering the status records goods arrival.
func (s Status) receiving() bool {
	return s == StatusReceived || s == StatusPartiallyReceived
}

// PurchaseOrder is the workflow aggregate.
type PurchaseOrder struct {
	ID          int64
	TenantID    uuid.UUID
	SupplierID  int64
	LocationID  int64
	OrderNumber string
	Status      Status
	Subtotal    float64
	Tax         float64
	Shipping    float64
	Total       float64
	OrderDate   time.Time
	ExpectedAt  time.Time
	ApprovedAt  time.Time
	ReceivedAt  time.Time
	CompletedAt time.Time
	Note        string
	Items       []PurchaseOrderItem
}

// OutstandingQuantity sums ordered minus received across all lines.
func (po PurchaseOrder) OutstandingQuantity() int64 {
	var total int64
	for _, item := range po.Items {
		total += item.Outstanding()
	}
	return total
}

// PurchaseOrderItem is one order line.
type PurchaseOrderItem struct {
	ID               int64
	OrderID          int64
	ProductID        int64
	VariantID        int64 // 0 when the product has no variants
	QuantityOrdered  int64
	QuantityReceived int64
	UnitCost         float64
	LineTotal        float64
}

// Outstanding is ordered minus received.
func (i PurchaseOrderItem) Outstanding() int64 {
	return i.QuantityOrdered - i.QuantityReceived
}

// CreateOrderInput describes a new draft order.
type CreateOrderInput struct {
	TenantID    uuid.UUID
	SupplierID  int64
	LocationID  int64
	OrderNumber string
	Tax         float64
	Shipping    float64
	OrderDate   time.Time
	ExpectedAt  time.Time
	Note        string
	ActorID     int64
	Items       []OrderItemInput
}

// OrderItemInput describes one requested line.
type OrderItemInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
	UnitCost  float64
}

// ReceiptLine nominates how much of one line arrived in a transition.
type ReceiptLine struct {
	ItemID   int64
	Quantity int64
}

// TransitionInput drives one state machine step.
type TransitionInput struct {
	TenantID  uuid.UUID
	OrderID   int64
	NewStatus Status
	Lines     []ReceiptLine
	ActorID   int64
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status     Status
	SupplierID int64
	Page       int
	PerPage    int
}

var (
	// ErrInvalidStatusTransition indicates a transition outside the table.
	ErrInvalidStatusTransition = errors.New("purchasing: invalid status transition")
	// ErrNotFound indicates the order does not exist for the tenant.
	ErrNotFound = errors.New("purchasing: order not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("purchasing: invalid input")
	// ErrDuplicateNumber indicates the order number is taken within the tenant.
	ErrDuplicateNumber = errors.New("purchasing: order number already exists")
)

// StatusTransitionError names the rejected edge.
type StatusTransitionError struct {
	From Status
	To   Status
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("purchasing: cannot transition from %s to %s", e.From, e.To)
}

// Is makes the error match ErrInvalidStatusTransition under errors.Is.
func (e *StatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
