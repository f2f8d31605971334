package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	ListProducts(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Product, shared.Pagination, error)
	GetProduct(ctx context.Context, tenantID uuid.UUID, id int64) (Product, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) error
	SetProductActive(ctx context.Context, tenantID uuid.UUID, id int64, active bool) error

	ListVariants(ctx context.Context, tenantID uuid.UUID, productID int64) ([]Variant, error)
	InsertVariant(ctx context.Context, v Variant) (Variant, error)

	ListLocations(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Location, shared.Pagination, error)
	InsertLocation(ctx context.Context, l Location) (Location, error)
	SetLocationActive(ctx context.Context, tenantID uuid.UUID, id int64, active bool) error

	ListSuppliers(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Supplier, shared.Pagination, error)
	InsertSupplier(ctx context.Context, s Supplier) (Supplier, error)
	SetSupplierActive(ctx context.Context, tenantID uuid.UUID, id int64, active bool) error
}

// Repository implements RepositoryPort on pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListProducts(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Product, shared.Pagination, error) {
	query := `SELECT id, tenant_id, sku, name, COALESCE(min_stock_level, 0), is_active, created_at, updated_at FROM products WHERE tenant_id = $1`
	countQuery := `SELECT COUNT(*) FROM products WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clause := ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR sku ILIKE $` + strconv.Itoa(len(args)) + `)`
		query += clause
		countQuery += clause
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
		countQuery += ` AND is_active`
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query += ` ORDER BY name ASC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, page.PerPage, (page.Page-1)*page.PerPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.MinStockLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		out = append(out, p)
	}
	return out, page, rows.Err()
}

func (r *Repository) GetProduct(ctx context.Context, tenantID uuid.UUID, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, sku, name, COALESCE(min_stock_level, 0), is_active, created_at, updated_at FROM products WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.MinStockLevel, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, mapPgError(err)
}

func (r *Repository) InsertProduct(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (tenant_id, sku, name, min_stock_level, is_active)
		 VALUES ($1, $2, $3, NULLIF($4, 0), TRUE)
		 RETURNING id, is_active, created_at, updated_at`,
		p.TenantID, p.SKU, p.Name, p.MinStockLevel,
	).Scan(&p.ID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, mapPgError(err)
	}
	return p, nil
}

func (r *Repository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET sku = $1, name = $2, min_stock_level = NULLIF($3, 0), updated_at = NOW() WHERE tenant_id = $4 AND id = $5`,
		p.SKU, p.Name, p.MinStockLevel, p.TenantID, p.ID,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, p.ID)
	}
	return nil
}

func (r *Repository) SetProductActive(ctx context.Context, tenantID uuid.UUID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET is_active = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`,
		active, tenantID, id,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ListVariants(ctx context.Context, tenantID uuid.UUID, productID int64) ([]Variant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, product_id, sku, name FROM product_variants WHERE tenant_id = $1 AND product_id = $2 ORDER BY sku ASC`,
		tenantID, productID,
	)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.TenantID, &v.ProductID, &v.SKU, &v.Name); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) InsertVariant(ctx context.Context, v Variant) (Variant, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO product_variants (tenant_id, product_id, sku, name) VALUES ($1, $2, $3, $4) RETURNING id`,
		v.TenantID, v.ProductID, v.SKU, v.Name,
	).Scan(&v.ID)
	if err != nil {
		return Variant{}, mapPgError(err)
	}
	return v, nil
}

func (r *Repository) ListLocations(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Location, shared.Pagination, error) {
	query := `SELECT id, tenant_id, code, name, is_active FROM locations WHERE tenant_id = $1`
	countQuery := `SELECT COUNT(*) FROM locations WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clause := ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR code ILIKE $` + strconv.Itoa(len(args)) + `)`
		query += clause
		countQuery += clause
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
		countQuery += ` AND is_active`
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query += ` ORDER BY code ASC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, page.PerPage, (page.Page-1)*page.PerPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Code, &l.Name, &l.IsActive); err != nil {
			return nil, shared.Pagination{}, err
		}
		out = append(out, l)
	}
	return out, page, rows.Err()
}

func (r *Repository) InsertLocation(ctx context.Context, l Location) (Location, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO locations (tenant_id, code, name, is_active) VALUES ($1, $2, $3, TRUE) RETURNING id, is_active`,
		l.TenantID, l.Code, l.Name,
	).Scan(&l.ID, &l.IsActive)
	if err != nil {
		return Location{}, mapPgError(err)
	}
	return l, nil
}

func (r *Repository) SetLocationActive(ctx context.Context, tenantID uuid.UUID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE locations SET is_active = $1 WHERE tenant_id = $2 AND id = $3`,
		active, tenantID, id,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: location %d", ErrNotFound, id)
	}
	return nil
}

func (r *Repository) ListSuppliers(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Supplier, shared.Pagination, error) {
	query := `SELECT id, tenant_id, code, name, email, is_active FROM suppliers WHERE tenant_id = $1`
	countQuery := `SELECT COUNT(*) FROM suppliers WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clause := ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR code ILIKE $` + strconv.Itoa(len(args)) + `)`
		query += clause
		countQuery += clause
	}
	if filter.ActiveOnly {
		query += ` AND is_active`
		countQuery += ` AND is_active`
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query += ` ORDER BY code ASC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, page.PerPage, (page.Page-1)*page.PerPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Pagination{}, mapPgError(err)
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Code, &s.Name, &s.Email, &s.IsActive); err != nil {
			return nil, shared.Pagination{}, err
		}
		out = append(out, s)
	}
	return out, page, rows.Err()
}

func (r *Repository) InsertSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO suppliers (tenant_id, code, name, email, is_active) VALUES ($1, $2, $3, $4, TRUE) RETURNING id, is_active`,
		s.TenantID, s.Code, s.Name, s.Email,
	).Scan(&s.ID, &s.IsActive)
	if err != nil {
		return Supplier{}, mapPgError(err)
	}
	return s, nil
}

func (r *Repository) SetSupplierActive(ctx context.Context, tenantID uuid.UUID, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE suppliers SET is_active = $1 WHERE tenant_id = $2 AND id = $3`,
		active, tenantID, id,
	)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: supplier %d", ErrNotFound, id)
	}
	return nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicateCode, pgErr.Detail)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
		}
	}
	return err
}
