package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
	"github.com/tradewind-erp/tradewind-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, tenantID uuid.UUID, orderID int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, tenantID uuid.UUID, filter OrderFilter) ([]PurchaseOrder, shared.Pagination, error)
}

// TxRepository is the transactional surface of the purchasing store. The
// Stock accessor exposes the stock transactional surface bound to the
// same database transaction, so receipt movements commit or roll back
// together with the status change.
type TxRepository interface {
	CheckSupplier(ctx context.Context, tenantID uuid.UUID, supplierID int64) error
	CheckLocation(ctx context.Context, tenantID uuid.UUID, locationID int64) error
	InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item PurchaseOrderItem) (int64, error)
	GetOrderForUpdate(ctx context.Context, tenantID uuid.UUID, orderID int64) (PurchaseOrder, error)
	UpdateOrder(ctx context.Context, order PurchaseOrder) error
	UpdateItemReceived(ctx context.Context, itemID, quantityReceived int64) error
	Stock() stock.TxRepository
}

// StockPort is the slice of the stock service the workflow drives.
type StockPort interface {
	Apply(ctx context.Context, tx stock.TxRepository, input stock.MovementInput) (stock.ApplyResult, error)
	AfterApply(ctx context.Context, results []stock.ApplyResult)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the purchase order workflow.
type Service struct {
	repo   RepositoryPort
	stock  StockPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service. Audit is optional.
func NewService(repo RepositoryPort, stockPort StockPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stockPort, audit: audit, logger: logger}
}

// CreatePurchaseOrder persists a draft order with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	order, err := buildOrder(input)
	if err != nil {
		return PurchaseOrder{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.CheckSupplier(ctx, order.TenantID, order.SupplierID); err != nil {
			return err
		}
		if err := tx.CheckLocation(ctx, order.TenantID, order.LocationID); err != nil {
			return err
		}
		orderID, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		for i := range order.Items {
			order.Items[i].OrderID = orderID
			itemID, err := tx.InsertItem(ctx, order.Items[i])
			if err != nil {
				return err
			}
			order.Items[i].ID = itemID
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, order, input.ActorID, "purchasing:create", nil)
	return order, nil
}

// Transition moves an order along the state machine. Entering a
// receiving status records the arrived quantities as inbound ledger
// movements inside the same transaction; if any line fails, the whole
// transition rolls back.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (PurchaseOrder, error) {
	if input.TenantID == uuid.Nil {
		return PurchaseOrder{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if input.OrderID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: order id required", ErrValidation)
	}
	if !input.NewStatus.Valid() {
		return PurchaseOrder{}, fmt.Errorf("%w: unknown status %q", ErrValidation, input.NewStatus)
	}

	var order PurchaseOrder
	var applied []stock.ApplyResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, input.TenantID, input.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(input.NewStatus) {
			return &StatusTransitionError{From: order.Status, To: input.NewStatus}
		}

		now := time.Now().UTC()
		if input.NewStatus.receiving() {
			receipts, err := resolveReceipts(&order, input)
			if err != nil {
				return err
			}
			applied = applied[:0]
			for _, rc := range receipts {
				item := &order.Items[rc.itemIndex]
				res, err := s.stock.Apply(ctx, tx.Stock(), stock.MovementInput{
					TenantID:       order.TenantID,
					ProductID:      item.ProductID,
					VariantID:      item.VariantID,
					LocationID:     order.LocationID,
					Type:           stock.MovementTypeIn,
					Reason:         stock.ReasonPurchaseOrderReceipt,
					QuantityChange: rc.quantity,
					CostPerUnit:    item.UnitCost,
					RefType:        "purchase_order",
					RefID:          order.ID,
					Note:           "receipt for " + order.OrderNumber,
					ActorID:        input.ActorID,
				})
				if err != nil {
					return fmt.Errorf("receive item %d: %w", item.ID, err)
				}
				applied = append(applied, res)
				item.QuantityReceived += rc.quantity
			}
			for _, rc := range receipts {
				item := order.Items[rc.itemIndex]
				if err := tx.UpdateItemReceived(ctx, item.ID, item.QuantityReceived); err != nil {
					return err
				}
			}
		}

		switch input.NewStatus {
		case StatusApproved:
			order.ApprovedAt = now
		case StatusReceived:
			order.ReceivedAt = now
		case StatusCompleted:
			order.CompletedAt = now
		}
		order.Status = input.NewStatus
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	if len(applied) > 0 {
		s.stock.AfterApply(ctx, applied)
	}
	s.recordAudit(ctx, order, input.ActorID, "purchasing:transition", map[string]any{
		"status":         string(order.Status),
		"receipt_events": len(applied),
	})
	return order, nil
}

// GetOrder fetches one order with its lines.
func (s *Service) GetOrder(ctx context.Context, tenantID uuid.UUID, orderID int64) (PurchaseOrder, error) {
	if tenantID == uuid.Nil {
		return PurchaseOrder{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	return s.repo.GetOrder(ctx, tenantID, orderID)
}

// ListOrders lists orders matching the filter.
func (s *Service) ListOrders(ctx context.Context, tenantID uuid.UUID, filter OrderFilter) ([]PurchaseOrder, shared.Pagination, error) {
	if tenantID == uuid.Nil {
		return nil, shared.Pagination{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.repo.ListOrders(ctx, tenantID, filter)
}

type receipt struct {
	itemIndex int
	quantity  int64
}

// resolveReceipts maps the transition's receipt lines onto order items.
// A full receive without explicit lines takes every outstanding
// quantity; a partial receive must name its lines.
func resolveReceipts(order *PurchaseOrder, input TransitionInput) ([]receipt, error) {
	if len(input.Lines) == 0 {
		if input.NewStatus == StatusPartiallyReceived {
			return nil, fmt.Errorf("%w: partially_received requires receipt lines", ErrValidation)
		}
		receipts := make([]receipt, 0, len(order.Items))
		for i := range order.Items {
			if out := order.Items[i].Outstanding(); out > 0 {
				receipts = append(receipts, receipt{itemIndex: i, quantity: out})
			}
		}
		return receipts, nil
	}

	index := make(map[int64]int, len(order.Items))
	for i := range order.Items {
		index[order.Items[i].ID] = i
	}
	seen := make(map[int64]bool, len(input.Lines))
	receipts := make([]receipt, 0, len(input.Lines))
	for _, line := range input.Lines {
		i, ok := index[line.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: item %d does not belong to order %d", ErrValidation, line.ItemID, order.ID)
		}
		if seen[line.ItemID] {
			return nil, fmt.Errorf("%w: duplicate receipt line for item %d", ErrValidation, line.ItemID)
		}
		seen[line.ItemID] = true
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: receipt quantity must be positive", ErrValidation)
		}
		if out := order.Items[i].Outstanding(); line.Quantity > out {
			return nil, fmt.Errorf("%w: receipt quantity %d exceeds outstanding %d on item %d", ErrValidation, line.Quantity, out, line.ItemID)
		}
		receipts = append(receipts, receipt{itemIndex: i, quantity: line.Quantity})
	}
	return receipts, nil
}

func buildOrder(input CreateOrderInput) (PurchaseOrder, error) {
	if input.TenantID == uuid.Nil {
		return PurchaseOrder{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if input.SupplierID == 0 || input.LocationID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier and location required", ErrValidation)
	}
	if input.OrderNumber == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: order number required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: order requires at least one item", ErrValidation)
	}
	if input.Tax < 0 || input.Shipping < 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: tax and shipping must be >= 0", ErrValidation)
	}
	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}
	if !input.ExpectedAt.IsZero() && input.ExpectedAt.Before(orderDate) {
		return PurchaseOrder{}, fmt.Errorf("%w: expected date before order date", ErrValidation)
	}

	order := PurchaseOrder{
		TenantID:    input.TenantID,
		SupplierID:  input.SupplierID,
		LocationID:  input.LocationID,
		OrderNumber: input.OrderNumber,
		Status:      StatusDraft,
		Tax:         input.Tax,
		Shipping:    input.Shipping,
		OrderDate:   orderDate,
		ExpectedAt:  input.ExpectedAt,
		Note:        input.Note,
		Items:       make([]PurchaseOrderItem, 0, len(input.Items)),
	}
	type lineKey struct {
		productID int64
		variantID int64
	}
	seen := make(map[lineKey]bool, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: item product required", ErrValidation)
		}
		if item.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: item quantity must be positive", ErrValidation)
		}
		if item.UnitCost <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: item unit cost must be positive", ErrValidation)
		}
		key := lineKey{productID: item.ProductID, variantID: item.VariantID}
		if seen[key] {
			return PurchaseOrder{}, fmt.Errorf("%w: duplicate line for product %d variant %d", ErrValidation, item.ProductID, item.VariantID)
		}
		seen[key] = true
		lineTotal := float64(item.Quantity) * item.UnitCost
		order.Subtotal += lineTotal
		order.Items = append(order.Items, PurchaseOrderItem{
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			QuantityOrdered: item.Quantity,
			UnitCost:        item.UnitCost,
			LineTotal:       lineTotal,
		})
	}
	order.Total = order.Subtotal + order.Tax + order.Shipping
	return order, nil
}

func (s *Service) recordAudit(ctx context.Context, order PurchaseOrder, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["order_number"] = order.OrderNumber
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: order.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: fmt.Sprintf("%d", order.ID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record purchasing audit", slog.Any("error", err))
	}
}
