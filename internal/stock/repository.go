package stock

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
)

// Repository persists the ledger and projections in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. lockTimeout bounds how long a
// writer waits on the per-key row lock; zero keeps the server default.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

// TxRepository exposes transactional operations used by the apply step.
type TxRepository interface {
	CheckProduct(ctx context.Context, tenantID uuid.UUID, productID, variantID int64) error
	CheckLocation(ctx context.Context, tenantID uuid.UUID, locationID int64) error
	CheckReference(ctx context.Context, tenantID uuid.UUID, refType string, refID int64) error
	InsertMovement(ctx context.Context, event MovementEvent) (int64, error)
	GetLevelForUpdate(ctx context.Context, key LevelKey) (StockLevel, error)
	UpsertLevel(ctx context.Context, level StockLevel) error
	ProductMinStock(ctx context.Context, tenantID uuid.UUID, productID, variantID int64) (int64, error)
	GetAlertForUpdate(ctx context.Context, key LevelKey) (LowStockAlert, error)
	UpsertAlert(ctx context.Context, alert LowStockAlert) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules (the
// purchase-order receipt loop) can share it with the apply step.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction
// with the configured lock-wait bound.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, r.lockTimeout, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapPgError(err)
}

// GetStockLevel reads one projection row without locking.
func (r *Repository) GetStockLevel(ctx context.Context, key LevelKey) (StockLevel, error) {
	var level StockLevel
	err := r.pool.QueryRow(ctx, `SELECT tenant_id, product_id, variant_id, location_id, current_stock, reserved_stock, cost_per_unit, last_movement_at, COALESCE(last_counted_at, 'epoch')
FROM stock_levels
WHERE tenant_id=$1 AND product_id=$2 AND variant_id=$3 AND location_id=$4`,
		key.TenantID, key.ProductID, key.VariantID, key.LocationID).
		Scan(&level.TenantID, &level.ProductID, &level.VariantID, &level.LocationID,
			&level.CurrentStock, &level.ReservedStock, &level.CostPerUnit, &level.LastMovementAt, &level.LastCountedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{}, ErrLevelNotFound
		}
		return StockLevel{}, mapPgError(err)
	}
	return level, nil
}

// ListMovements pages through the ledger, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementEvent, shared.Pagination, error) {
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	where := `tenant_id=$1
AND ($2::bigint = 0 OR product_id=$2)
AND ($3::bigint = 0 OR variant_id=$3)
AND ($4::bigint = 0 OR location_id=$4)
AND ($5::text = '' OR ref_type=$5)
AND ($6::bigint = 0 OR ref_id=$6)
AND occurred_at BETWEEN COALESCE($7, '-infinity') AND COALESCE($8, 'infinity')`
	args := []any{filter.TenantID, filter.ProductID, filter.VariantID, filter.LocationID,
		filter.RefType, filter.RefID, nullTime(filter.From), nullTime(filter.To)}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	page = shared.NewPagination(filter.Page, filter.PerPage, total)

	query := fmt.Sprintf(`SELECT id, tenant_id, product_id, variant_id, location_id, movement_type, movement_reason, quantity_change, COALESCE(cost_per_unit, 0), COALESCE(ref_type, ''), COALESCE(ref_id, 0), batch_number, serial_number, note, actor_id, occurred_at
FROM stock_movements WHERE %s
ORDER BY occurred_at DESC, id DESC
LIMIT $9 OFFSET $10`, where)
	rows, err := r.pool.Query(ctx, query, append(args, page.PerPage, (page.Page-1)*page.PerPage)...)
	if err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	defer rows.Close()

	var events []MovementEvent
	for rows.Next() {
		var e MovementEvent
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProductID, &e.VariantID, &e.LocationID,
			&e.Type, &e.Reason, &e.QuantityChange, &e.CostPerUnit, &e.RefType, &e.RefID,
			&e.BatchNumber, &e.SerialNumber, &e.Note, &e.ActorID, &e.OccurredAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return events, page, nil
}

// ListLowStockAlerts lists alert rows for a tenant.
func (r *Repository) ListLowStockAlerts(ctx context.Context, tenantID uuid.UUID, filter AlertFilter) ([]LowStockAlert, shared.Pagination, error) {
	where := `tenant_id=$1 AND ($2::bigint = 0 OR location_id=$2) AND ($3::bool = false OR is_active)`
	args := []any{tenantID, filter.LocationID, filter.ActiveOnly}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM low_stock_alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, total)

	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, product_id, variant_id, location_id, alert_threshold, current_stock, is_active, COALESCE(last_alerted_at, 'epoch'), alert_frequency_seconds
FROM low_stock_alerts WHERE `+where+`
ORDER BY is_active DESC, last_alerted_at DESC
LIMIT $4 OFFSET $5`, append(args, page.PerPage, (page.Page-1)*page.PerPage)...)
	if err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	defer rows.Close()

	var alerts []LowStockAlert
	for rows.Next() {
		var a LowStockAlert
		var cooldownSec int64
		if err := rows.Scan(&a.ID, &a.TenantID, &a.ProductID, &a.VariantID, &a.LocationID,
			&a.Threshold, &a.CurrentStock, &a.IsActive, &a.LastAlertedAt, &cooldownSec); err != nil {
			return nil, shared.Pagination{}, err
		}
		a.Cooldown = time.Duration(cooldownSec) * time.Second
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Pagination{}, err
	}
	return alerts, page, nil
}

func (r *txRepository) CheckProduct(ctx context.Context, tenantID uuid.UUID, productID, variantID int64) error {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE tenant_id=$1 AND id=$2)`, tenantID, productID).Scan(&exists)
	if err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%w: product %d", ErrInvalidReference, productID)
	}
	if variantID == 0 {
		return nil
	}
	err = r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM product_variants WHERE tenant_id=$1 AND product_id=$2 AND id=$3)`, tenantID, productID, variantID).Scan(&exists)
	if err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%w: variant %d of product %d", ErrInvalidReference, variantID, productID)
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
		return fmt.Errorf("%w: location %d", ErrInvalidReference, locationID)
	}
	return nil
}

func (r *txRepository) CheckReference(ctx context.Context, tenantID uuid.UUID, refType string, refID int64) error {
	var table string
	switch refType {
	case "purchase_order":
		table = "purchase_orders"
	case "sales_order":
		table = "sales_orders"
	default:
		return fmt.Errorf("%w: unknown reference type %q", ErrInvalidReference, refType)
	}
	var exists bool
	err := r.tx.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE tenant_id=$1 AND id=$2)`, table), tenantID, refID).Scan(&exists)
	if err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s %d", ErrInvalidReference, refType, refID)
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, event MovementEvent) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (tenant_id, product_id, variant_id, location_id, movement_type, movement_reason, quantity_change, cost_per_unit, ref_type, ref_id, batch_number, serial_number, note, actor_id, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		event.TenantID, event.ProductID, event.VariantID, event.LocationID,
		string(event.Type), string(event.Reason), event.QuantityChange, nullFloat(event.CostPerUnit),
		nullString(event.RefType), nullInt(event.RefID), event.BatchNumber, event.SerialNumber,
		event.Note, event.ActorID, event.OccurredAt).Scan(&id)
	return id, mapPgError(err)
}

func (r *txRepository) GetLevelForUpdate(ctx context.Context, key LevelKey) (StockLevel, error) {
	var level StockLevel
	err := r.tx.QueryRow(ctx, `SELECT tenant_id, product_id, variant_id, location_id, current_stock, reserved_stock, cost_per_unit, last_movement_at, COALESCE(last_counted_at, 'epoch')
FROM stock_levels
WHERE tenant_id=$1 AND product_id=$2 AND variant_id=$3 AND location_id=$4 FOR UPDATE`,
		key.TenantID, key.ProductID, key.VariantID, key.LocationID).
		Scan(&level.TenantID, &level.ProductID, &level.VariantID, &level.LocationID,
			&level.CurrentStock, &level.ReservedStock, &level.CostPerUnit, &level.LastMovementAt, &level.LastCountedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{TenantID: key.TenantID, ProductID: key.ProductID, VariantID: key.VariantID, LocationID: key.LocationID}, ErrLevelNotFound
		}
		return StockLevel{}, mapPgError(err)
	}
	return level, nil
}

func (r *txRepository) UpsertLevel(ctx context.Context, level StockLevel) error {
	// Create-if-absent and merge are one statement so two concurrent
	// first movements for the same key cannot both insert.
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, product_id, variant_id, location_id, current_stock, reserved_stock, cost_per_unit, last_movement_at, last_counted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (tenant_id, product_id, variant_id, location_id) DO UPDATE
SET current_stock=EXCLUDED.current_stock, reserved_stock=EXCLUDED.reserved_stock, cost_per_unit=EXCLUDED.cost_per_unit, last_movement_at=EXCLUDED.last_movement_at, last_counted_at=EXCLUDED.last_counted_at`,
		level.TenantID, level.ProductID, level.VariantID, level.LocationID,
		level.CurrentStock, level.ReservedStock, level.CostPerUnit, level.LastMovementAt, nullTime(level.LastCountedAt))
	return mapPgError(err)
}

func (r *txRepository) ProductMinStock(ctx context.Context, tenantID uuid.UUID, productID, variantID int64) (int64, error) {
	var minStock int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(min_stock_level, 0) FROM products WHERE tenant_id=$1 AND id=$2`, tenantID, productID).Scan(&minStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: product %d", ErrInvalidReference, productID)
		}
		return 0, mapPgError(err)
	}
	return minStock, nil
}

func (r *txRepository) GetAlertForUpdate(ctx context.Context, key LevelKey) (LowStockAlert, error) {
	var a LowStockAlert
	var cooldownSec int64
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, product_id, variant_id, location_id, alert_threshold, current_stock, is_active, COALESCE(last_alerted_at, 'epoch'), alert_frequency_seconds
FROM low_stock_alerts
WHERE tenant_id=$1 AND product_id=$2 AND variant_id=$3 AND location_id=$4 FOR UPDATE`,
		key.TenantID, key.ProductID, key.VariantID, key.LocationID).
		Scan(&a.ID, &a.TenantID, &a.ProductID, &a.VariantID, &a.LocationID,
			&a.Threshold, &a.CurrentStock, &a.IsActive, &a.LastAlertedAt, &cooldownSec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LowStockAlert{}, ErrAlertNotFound
		}
		return LowStockAlert{}, mapPgError(err)
	}
	a.Cooldown = time.Duration(cooldownSec) * time.Second
	return a, nil
}

func (r *txRepository) UpsertAlert(ctx context.Context, alert LowStockAlert) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO low_stock_alerts (tenant_id, product_id, variant_id, location_id, alert_threshold, current_stock, is_active, last_alerted_at, alert_frequency_seconds)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (tenant_id, product_id, variant_id, location_id) DO UPDATE
SET alert_threshold=EXCLUDED.alert_threshold, current_stock=EXCLUDED.current_stock, is_active=EXCLUDED.is_active, last_alerted_at=EXCLUDED.last_alerted_at, alert_frequency_seconds=EXCLUDED.alert_frequency_seconds`,
		alert.TenantID, alert.ProductID, alert.VariantID, alert.LocationID,
		alert.Threshold, alert.CurrentStock, alert.IsActive, nullTime(alert.LastAlertedAt), int64(alert.Cooldown/time.Second))
	return mapPgError(err)
}

// mapPgError translates PostgreSQL failure codes into the package's
// error taxonomy so callers can distinguish retryable contention from
// permanent rejections.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrContention, pgErr.Message)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.Message)
		}
	}
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullFloat(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
