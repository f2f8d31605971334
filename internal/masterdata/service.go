package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// AuditPort records reference-data changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service applies validation and audit around the repository.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the masterdata service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

func (s *Service) ListProducts(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Product, shared.Pagination, error) {
	return s.repo.ListProducts(ctx, tenantID, filter)
}

func (s *Service) GetProduct(ctx context.Context, tenantID uuid.UUID, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: product id required", ErrValidation)
	}
	return s.repo.GetProduct(ctx, tenantID, id)
}

func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	if err := validateCodeName(input.SKU, input.Name); err != nil {
		return Product{}, err
	}
	if input.MinStockLevel < 0 {
		return Product{}, fmt.Errorf("%w: min_stock_level must not be negative", ErrValidation)
	}
	created, err := s.repo.InsertProduct(ctx, Product{
		TenantID:      input.TenantID,
		SKU:           strings.TrimSpace(input.SKU),
		Name:          strings.TrimSpace(input.Name),
		MinStockLevel: input.MinStockLevel,
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "product.create", "product", created.ID, map[string]any{"sku": created.SKU})
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, input ProductInput) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: product id required", ErrValidation)
	}
	if err := validateCodeName(input.SKU, input.Name); err != nil {
		return Product{}, err
	}
	if input.MinStockLevel < 0 {
		return Product{}, fmt.Errorf("%w: min_stock_level must not be negative", ErrValidation)
	}
	current, err := s.repo.GetProduct(ctx, input.TenantID, id)
	if err != nil {
		return Product{}, err
	}
	current.SKU = strings.TrimSpace(input.SKU)
	current.Name = strings.TrimSpace(input.Name)
	current.MinStockLevel = input.MinStockLevel
	if err := s.repo.UpdateProduct(ctx, current); err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "product.update", "product", id, map[string]any{"sku": current.SKU})
	return s.repo.GetProduct(ctx, input.TenantID, id)
}

// DeactivateProduct hides the product from active listings. Movements
// referencing it stay intact.
func (s *Service) DeactivateProduct(ctx context.Context, tenantID uuid.UUID, id, actorID int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: product id required", ErrValidation)
	}
	if err := s.repo.SetProductActive(ctx, tenantID, id, false); err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "product.deactivate", "product", id, nil)
	return nil
}

func (s *Service) ListVariants(ctx context.Context, tenantID uuid.UUID, productID int64) ([]Variant, error) {
	if productID <= 0 {
		return nil, fmt.Errorf("%w: product id required", ErrValidation)
	}
	return s.repo.ListVariants(ctx, tenantID, productID)
}

func (s *Service) CreateVariant(ctx context.Context, input VariantInput) (Variant, error) {
	if input.ProductID <= 0 {
		return Variant{}, fmt.Errorf("%w: product id required", ErrValidation)
	}
	if err := validateCodeName(input.SKU, input.Name); err != nil {
		return Variant{}, err
	}
	if _, err := s.repo.GetProduct(ctx, input.TenantID, input.ProductID); err != nil {
		return Variant{}, err
	}
	created, err := s.repo.InsertVariant(ctx, Variant{
		TenantID:  input.TenantID,
		ProductID: input.ProductID,
		SKU:       strings.TrimSpace(input.SKU),
		Name:      strings.TrimSpace(input.Name),
	})
	if err != nil {
		return Variant{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "variant.create", "variant", created.ID, map[string]any{"product_id": input.ProductID, "sku": created.SKU})
	return created, nil
}

func (s *Service) ListLocations(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Location, shared.Pagination, error) {
	return s.repo.ListLocations(ctx, tenantID, filter)
}

func (s *Service) CreateLocation(ctx context.Context, input LocationInput) (Location, error) {
	if err := validateCodeName(input.Code, input.Name); err != nil {
		return Location{}, err
	}
	created, err := s.repo.InsertLocation(ctx, Location{
		TenantID: input.TenantID,
		Code:     strings.TrimSpace(input.Code),
		Name:     strings.TrimSpace(input.Name),
	})
	if err != nil {
		return Location{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "location.create", "location", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

func (s *Service) DeactivateLocation(ctx context.Context, tenantID uuid.UUID, id, actorID int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: location id required", ErrValidation)
	}
	if err := s.repo.SetLocationActive(ctx, tenantID, id, false); err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "location.deactivate", "location", id, nil)
	return nil
}

func (s *Service) ListSuppliers(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Supplier, shared.Pagination, error) {
	return s.repo.ListSuppliers(ctx, tenantID, filter)
}

func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput) (Supplier, error) {
	if err := validateCodeName(input.Code, input.Name); err != nil {
		return Supplier{}, err
	}
	created, err := s.repo.InsertSupplier(ctx, Supplier{
		TenantID: input.TenantID,
		Code:     strings.TrimSpace(input.Code),
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.TrimSpace(input.Email),
	})
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, input.TenantID, input.ActorID, "supplier.create", "supplier", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

func (s *Service) DeactivateSupplier(ctx context.Context, tenantID uuid.UUID, id, actorID int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: supplier id required", ErrValidation)
	}
	if err := s.repo.SetSupplierActive(ctx, tenantID, id, false); err != nil {
		return err
	}
	s.recordAudit(ctx, tenantID, actorID, "supplier.deactivate", "supplier", id, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID uuid.UUID, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func validateCodeName(code, name string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	return nil
}
