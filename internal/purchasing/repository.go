package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind-erp/internal/platform/db"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
	"github.com/tradewind-erp/tradewind-erp/internal/stock"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
// Receipt movements and the status change share it.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, r.lockTimeout, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapPgError(err)
}

// GetOrder fetches one order with its items, without locking.
func (r *Repository) GetOrder(ctx context.Context, tenantID uuid.UUID, orderID int64) (PurchaseOrder, error) {
	return scanOrder(ctx, r.pool, tenantID, orderID, false)
}

// ListOrders pages through a tenant's orders, newest first. Items are
// not hydrated on listings.
func (r *Repository) ListOrders(ctx context.Context, tenantID uuid.UUID, filter OrderFilter) ([]PurchaseOrder, shared.Pagination, error) {
	where := `tenant_id=$1 AND ($2::text = '' OR status=$2) AND ($3::bigint = 0 OR supplier_id=$3)`
	args := []any{tenantID, string(filter.Status), filter.SupplierID}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)

	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, supplier_id, location_id, order_number, status, subtotal, tax, shipping, total, order_date, COALESCE(expected_at, 'epoch'), COALESCE(approved_at, 'epoch'), COALESCE(received_at, 'epoch'), COALESCE(completed_at, 'epoch'), note
FROM purchase_orders WHERE `+where+`
ORDER BY order_date DESC, id DESC
LIMIT $4 OFFSET $5`, append(args, page.PerPage, (page.Page-1)*page.PerPage)...)
	if err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.TenantID, &po.SupplierID, &po.LocationID, &po.OrderNumber, &po.Status,
			&po.Subtotal, &po.Tax, &po.Shipping, &po.Total,
			&po.OrderDate, &po.ExpectedAt, &po.ApprovedAt, &po.ReceivedAt, &po.CompletedAt, &po.Note); err != nil {
			return nil, shared.Pagination{}, err
		}
		normalizeDates(&po)
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, page, nil
}

func (r *txRepository) CheckSupplier(ctx context.Context, tenantID uuid.UUID, supplierID int64) error {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM suppliers WHERE tenant_id=$1 AND id=$2)`, tenantID, supplierID).Scan(&exists)
	if err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%w: supplier %d", ErrValidation, supplierID)
	}
	return nil
}

func (r *txRepository) CheckLocation(ctx context.Context, tenantID uuid.UUID, locationID int64) error {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM locations WHERE tenant_id=$1 AND id=$2)`, tenantID, locationID).Scan(&exists)
	if err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%w: location %d", ErrValidation, locationID)
	}
	return nil
}

func (r *txRepository) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (tenant_id, supplier_id, location_id, order_number, status, subtotal, tax, shipping, total, order_date, expected_at, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		order.TenantID, order.SupplierID, order.LocationID, order.OrderNumber, string(order.Status),
		order.Subtotal, order.Tax, order.Shipping, order.Total,
		order.OrderDate, nullTime(order.ExpectedAt), order.Note).Scan(&id)
	return id, mapPgError(err)
}

func (r *txRepository) InsertItem(ctx context.Context, item PurchaseOrderItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, product_id, variant_id, quantity_ordered, quantity_received, unit_cost, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		item.OrderID, item.ProductID, item.VariantID, item.QuantityOrdered, item.QuantityReceived, item.UnitCost, item.LineTotal).Scan(&id)
	return id, mapPgError(err)
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, tenantID uuid.UUID, orderID int64) (PurchaseOrder, error) {
	return scanOrder(ctx, r.tx, tenantID, orderID, true)
}

func (r *txRepository) UpdateOrder(ctx context.Context, order PurchaseOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders
SET status=$3, approved_at=$4, received_at=$5, completed_at=$6, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`,
		order.TenantID, order.ID, string(order.Status),
		nullTime(order.ApprovedAt), nullTime(order.ReceivedAt), nullTime(order.CompletedAt))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateItemReceived(ctx context.Context, itemID, quantityReceived int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_items SET quantity_received=$2 WHERE id=$1`, itemID, quantityReceived)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	return nil
}

// Stock exposes the stock transactional surface bound to this
// transaction so receipt movements share the commit.
func (r *txRepository) Stock() stock.TxRepository {
	return stock.NewTxRepository(r.tx)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(ctx context.Context, q querier, tenantID uuid.UUID, orderID int64, forUpdate bool) (PurchaseOrder, error) {
	query := `SELECT id, tenant_id, supplier_id, location_id, order_number, status, subtotal, tax, shipping, total, order_date, COALESCE(expected_at, 'epoch'), COALESCE(approved_at, 'epoch'), COALESCE(received_at, 'epoch'), COALESCE(completed_at, 'epoch'), note
FROM purchase_orders WHERE tenant_id=$1 AND id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var po PurchaseOrder
	err := q.QueryRow(ctx, query, tenantID, orderID).
		Scan(&po.ID, &po.TenantID, &po.SupplierID, &po.LocationID, &po.OrderNumber, &po.Status,
			&po.Subtotal, &po.Tax, &po.Shipping, &po.Total,
			&po.OrderDate, &po.ExpectedAt, &po.ApprovedAt, &po.ReceivedAt, &po.CompletedAt, &po.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, mapPgError(err)
	}
	normalizeDates(&po)

	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, variant_id, quantity_ordered, quantity_received, unit_cost, line_total
FROM purchase_order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return PurchaseOrder{}, mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var item PurchaseOrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID,
			&item.QuantityOrdered, &item.QuantityReceived, &item.UnitCost, &item.LineTotal); err != nil {
			return PurchaseOrder{}, err
		}
		po.Items = append(po.Items, item)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// normalizeDates maps the epoch sentinel used for SQL NULLs back onto
// Go zero values.
func normalizeDates(po *PurchaseOrder) {
	epoch := time.Unix(0, 0).UTC()
	for _, field := range []*time.Time{&po.ExpectedAt, &po.ApprovedAt, &po.ReceivedAt, &po.CompletedAt} {
		if field.Equal(epoch) {
			*field = time.Time{}
		}
	}
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation on (tenant_id, order_number)
			if pgErr.ConstraintName == "purchase_orders_tenant_id_order_number_key" {
				return fmt.Errorf("%w: %s", ErrDuplicateNumber, pgErr.Detail)
			}
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
		}
	}
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
