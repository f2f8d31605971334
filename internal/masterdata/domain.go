// Package masterdata manages the reference entities the ledger points
// at: products with their variants, stock locations and suppliers.
// Records are deactivated rather than deleted so historical movements
// keep valid references.
package masterdata

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateCode = errors.New("code already in use")
	ErrValidation    = errors.New("validation failed")
)

// Product is a sellable or stockable item.
type Product struct {
	ID            int64
	TenantID      uuid.UUID
	SKU           string
	Name          string
	MinStockLevel int64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Variant is a concrete variation of a product (size, colour).
type Variant struct {
	ID        int64
	TenantID  uuid.UUID
	ProductID int64
	SKU       string
	Name      string
}

// Location is a physical or logical place stock is held at.
type Location struct {
	ID       int64
	TenantID uuid.UUID
	Code     string
	Name     string
	IsActive bool
}

// Supplier is a party purchase orders are placed with.
type Supplier struct {
	ID       int64
	TenantID uuid.UUID
	Code     string
	Name     string
	Email    string
	IsActive bool
}

// ProductInput carries the writable fields of a product.
type ProductInput struct {
	TenantID      uuid.UUID
	SKU           string
	Name          string
	MinStockLevel int64
	ActorID       int64
}

// VariantInput carries the writable fields of a variant.
type VariantInput struct {
	TenantID  uuid.UUID
	ProductID int64
	SKU       string
	Name      string
	ActorID   int64
}

// LocationInput carries the writable fields of a location.
type LocationInput struct {
	TenantID uuid.UUID
	Code     string
	Name     string
	ActorID  int64
}

// SupplierInput carries the writable fields of a supplier.
type SupplierInput struct {
	TenantID uuid.UUID
	Code     string
	Name     string
	Email    string
	ActorID  int64
}

// ListFilter narrows listings.
type ListFilter struct {
	Search     string
	ActiveOnly bool
	Page       int
	PerPage    int
}
