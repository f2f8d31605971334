package masterdata

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

var testTenant = uuid.MustParse("5b0c2b6e-9a1f-4f33-8aa1-0d9b1f6c2a11")

type memoryRepo struct {
	products  map[int64]Product
	variants  map[int64]Variant
	locations map[int64]Location
	suppliers map[int64]Supplier
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:  map[int64]Product{},
		variants:  map[int64]Variant{},
		locations: map[int64]Location{},
		suppliers: map[int64]Supplier{},
	}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) ListProducts(_ context.Context, tenantID uuid.UUID, filter ListFilter) ([]Product, shared.Pagination, error) {
	var out []Product
	for _, p := range m.products {
		if p.TenantID != tenantID {
			continue
		}
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, p)
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, len(out)), nil
}

func (m *memoryRepo) GetProduct(_ context.Context, tenantID uuid.UUID, id int64) (Product, error) {
	p, ok := m.products[id]
	if !ok || p.TenantID != tenantID {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, nil
}

func (m *memoryRepo) InsertProduct(_ context.Context, p Product) (Product, error) {
	for _, existing := range m.products {
		if existing.TenantID == p.TenantID && existing.SKU == p.SKU {
			return Product{}, ErrDuplicateCode
		}
	}
	p.ID = m.id()
	p.IsActive = true
	m.products[p.ID] = p
	return p, nil
}

func (m *memoryRepo) UpdateProduct(_ context.Context, p Product) error {
	if _, ok := m.products[p.ID]; !ok {
		return ErrNotFound
	}
	m.products[p.ID] = p
	return nil
}

func (m *memoryRepo) SetProductActive(_ context.Context, tenantID uuid.UUID, id int64, active bool) error {
	p, ok := m.products[id]
	if !ok || p.TenantID != tenantID {
		return fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	p.IsActive = active
	m.products[id] = p
	return nil
}

func (m *memoryRepo) ListVariants(_ context.Context, tenantID uuid.UUID, productID int64) ([]Variant, error) {
	var out []Variant
	for _, v := range m.variants {
		if v.TenantID == tenantID && v.ProductID == productID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertVariant(_ context.Context, v Variant) (Variant, error) {
	for _, existing := range m.variants {
		if existing.TenantID == v.TenantID && existing.SKU == v.SKU {
			return Variant{}, ErrDuplicateCode
		}
	}
	v.ID = m.id()
	m.variants[v.ID] = v
	return v, nil
}

func (m *memoryRepo) ListLocations(_ context.Context, tenantID uuid.UUID, filter ListFilter) ([]Location, shared.Pagination, error) {
	var out []Location
	for _, l := range m.locations {
		if l.TenantID != tenantID {
			continue
		}
		if filter.ActiveOnly && !l.IsActive {
			continue
		}
		out = append(out, l)
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, len(out)), nil
}

func (m *memoryRepo) InsertLocation(_ context.Context, l Location) (Location, error) {
	for _, existing := range m.locations {
		if existing.TenantID == l.TenantID && existing.Code == l.Code {
			return Location{}, ErrDuplicateCode
		}
	}
	l.ID = m.id()
	l.IsActive = true
	m.locations[l.ID] = l
	return l, nil
}

func (m *memoryRepo) SetLocationActive(_ context.Context, tenantID uuid.UUID, id int64, active bool) error {
	l, ok := m.locations[id]
	if !ok || l.TenantID != tenantID {
		return fmt.Errorf("%w: location %d", ErrNotFound, id)
	}
	l.IsActive = active
	m.locations[id] = l
	return nil
}

func (m *memoryRepo) ListSuppliers(_ context.Context, tenantID uuid.UUID, filter ListFilter) ([]Supplier, shared.Pagination, error) {
	var out []Supplier
	for _, s := range m.suppliers {
		if s.TenantID != tenantID {
			continue
		}
		if filter.ActiveOnly && !s.IsActive {
			continue
		}
		out = append(out, s)
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, len(out)), nil
}

func (m *memoryRepo) InsertSupplier(_ context.Context, s Supplier) (Supplier, error) {
	for _, existing := range m.suppliers {
		if existing.TenantID == s.TenantID && existing.Code == s.Code {
			return Supplier{}, ErrDuplicateCode
		}
	}
	s.ID = m.id()
	s.IsActive = true
	m.suppliers[s.ID] = s
	return s, nil
}

func (m *memoryRepo) SetSupplierActive(_ context.Context, tenantID uuid.UUID, id int64, active bool) error {
	s, ok := m.suppliers[id]
	if !ok || s.TenantID != tenantID {
		return fmt.Errorf("%w: supplier %d", ErrNotFound, id)
	}
	s.IsActive = active
	m.suppliers[id] = s
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	return NewService(repo, nil, nil), repo
}

func TestCreateProduct(t *testing.T) {
	svc, _ := newTestService(t)

	product, err := svc.CreateProduct(context.Background(), ProductInput{
		TenantID:      testTenant,
		SKU:           "  WIDGET-1  ",
		Name:          "Widget",
		MinStockLevel: 25,
	})
	require.NoError(t, err)
	require.Equal(t, "WIDGET-1", product.SKU)
	require.Equal(t, int64(25), product.MinStockLevel)
	require.True(t, product.IsActive)
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, Name: "no sku"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "X", Name: "   "})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "X", Name: "x", MinStockLevel: -1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "DUP", Name: "first"})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "DUP", Name: "second"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestUpdateProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "A", Name: "before"})
	require.NoError(t, err)

	updated, err := svc.UpdateProduct(ctx, created.ID, ProductInput{
		TenantID: testTenant, SKU: "A", Name: "after", MinStockLevel: 5,
	})
	require.NoError(t, err)
	require.Equal(t, "after", updated.Name)
	require.Equal(t, int64(5), updated.MinStockLevel)

	_, err = svc.UpdateProduct(ctx, 999, ProductInput{TenantID: testTenant, SKU: "A", Name: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateProductKeepsRecord(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "A", Name: "a"})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateProduct(ctx, testTenant, created.ID, 0))
	require.False(t, repo.products[created.ID].IsActive)

	active, _, err := svc.ListProducts(ctx, testTenant, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Empty(t, active)

	all, _, err := svc.ListProducts(ctx, testTenant, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCreateVariantRequiresProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateVariant(ctx, VariantInput{TenantID: testTenant, ProductID: 42, SKU: "V", Name: "v"})
	require.ErrorIs(t, err, ErrNotFound)

	product, err := svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "P", Name: "p"})
	require.NoError(t, err)

	variant, err := svc.CreateVariant(ctx, VariantInput{TenantID: testTenant, ProductID: product.ID, SKU: "P-RED", Name: "red"})
	require.NoError(t, err)
	require.Equal(t, product.ID, variant.ProductID)

	variants, err := svc.ListVariants(ctx, testTenant, product.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
}

func TestTenantIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	otherTenant := uuid.MustParse("99999999-9999-4999-8999-999999999999")

	created, err := svc.CreateProduct(ctx, ProductInput{TenantID: testTenant, SKU: "A", Name: "a"})
	require.NoError(t, err)

	_, err = svc.GetProduct(ctx, otherTenant, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	products, _, err := svc.ListProducts(ctx, otherTenant, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestLocationAndSupplierLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	location, err := svc.CreateLocation(ctx, LocationInput{TenantID: testTenant, Code: "WH-1", Name: "Main"})
	require.NoError(t, err)
	require.True(t, location.IsActive)

	_, err = svc.CreateLocation(ctx, LocationInput{TenantID: testTenant, Code: "WH-1", Name: "Other"})
	require.ErrorIs(t, err, ErrDuplicateCode)

	require.NoError(t, svc.DeactivateLocation(ctx, testTenant, location.ID, 0))

	supplier, err := svc.CreateSupplier(ctx, SupplierInput{TenantID: testTenant, Code: "ACME", Name: "Acme", Email: "sales@acme.test"})
	require.NoError(t, err)
	require.True(t, supplier.IsActive)

	require.NoError(t, svc.DeactivateSupplier(ctx, testTenant, supplier.ID, 0))

	active, _, err := svc.ListSuppliers(ctx, testTenant, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Empty(t, active)
}
