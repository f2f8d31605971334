package masterdata

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tradewind-erp/tradewind-erp/internal/platform/httpx"
	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// Handler wires HTTP endpoints for reference data.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the masterdata handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers masterdata routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.handleListProducts)
		r.Post("/", h.handleCreateProduct)
		r.Get("/{productID}", h.handleGetProduct)
		r.Put("/{productID}", h.handleUpdateProduct)
		r.Delete("/{productID}", h.handleDeactivateProduct)
		r.Get("/{productID}/variants", h.handleListVariants)
		r.Post("/{productID}/variants", h.handleCreateVariant)
	})
	r.Route("/locations", func(r chi.Router) {
		r.Get("/", h.handleListLocations)
		r.Post("/", h.handleCreateLocation)
		r.Delete("/{locationID}", h.handleDeactivateLocation)
	})
	r.Route("/suppliers", func(r chi.Router) {
		r.Get("/", h.handleListSuppliers)
		r.Post("/", h.handleCreateSupplier)
		r.Delete("/{supplierID}", h.handleDeactivateSupplier)
	})
}

type productRequest struct {
	SKU           string `json:"sku" validate:"required"`
	Name          string `json:"name" validate:"required"`
	MinStockLevel int64  `json:"min_stock_level" validate:"gte=0"`
	ActorID       int64  `json:"actor_id"`
}

type variantRequest struct {
	SKU     string `json:"sku" validate:"required"`
	Name    string `json:"name" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

type locationRequest struct {
	Code    string `json:"code" validate:"required"`
	Name    string `json:"name" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

type supplierRequest struct {
	Code    string `json:"code" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	ActorID int64  `json:"actor_id"`
}

type productPayload struct {
	ID            int64     `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	MinStockLevel int64     `json:"min_stock_level,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type variantPayload struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
}

type locationPayload struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type supplierPayload struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"is_active"`
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	products, page, err := h.service.ListProducts(r.Context(), tenantID, listFilterFromQuery(r))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]productPayload, 0, len(products))
	for _, p := range products {
		payload = append(payload, toProductPayload(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": payload, "pagination": page})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	id := pathInt64(r, "productID")
	product, err := h.service.GetProduct(r.Context(), tenantID, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductPayload(product))
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.CreateProduct(r.Context(), ProductInput{
		TenantID:      tenantID,
		SKU:           req.SKU,
		Name:          req.Name,
		MinStockLevel: req.MinStockLevel,
		ActorID:       req.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductPayload(product))
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), pathInt64(r, "productID"), ProductInput{
		TenantID:      tenantID,
		SKU:           req.SKU,
		Name:          req.Name,
		MinStockLevel: req.MinStockLevel,
		ActorID:       req.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductPayload(product))
}

func (h *Handler) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	if err := h.service.DeactivateProduct(r.Context(), tenantID, pathInt64(r, "productID"), 0); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListVariants(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	variants, err := h.service.ListVariants(r.Context(), tenantID, pathInt64(r, "productID"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]variantPayload, 0, len(variants))
	for _, v := range variants {
		payload = append(payload, variantPayload{ID: v.ID, ProductID: v.ProductID, SKU: v.SKU, Name: v.Name})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variants": payload})
}

func (h *Handler) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req variantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	variant, err := h.service.CreateVariant(r.Context(), VariantInput{
		TenantID:  tenantID,
		ProductID: pathInt64(r, "productID"),
		SKU:       req.SKU,
		Name:      req.Name,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, variantPayload{ID: variant.ID, ProductID: variant.ProductID, SKU: variant.SKU, Name: variant.Name})
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	locations, page, err := h.service.ListLocations(r.Context(), tenantID, listFilterFromQuery(r))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]locationPayload, 0, len(locations))
	for _, l := range locations {
		payload = append(payload, locationPayload{ID: l.ID, Code: l.Code, Name: l.Name, IsActive: l.IsActive})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": payload, "pagination": page})
}

func (h *Handler) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req locationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	location, err := h.service.CreateLocation(r.Context(), LocationInput{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, locationPayload{ID: location.ID, Code: location.Code, Name: location.Name, IsActive: location.IsActive})
}

func (h *Handler) handleDeactivateLocation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	if err := h.service.DeactivateLocation(r.Context(), tenantID, pathInt64(r, "locationID"), 0); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	suppliers, page, err := h.service.ListSuppliers(r.Context(), tenantID, listFilterFromQuery(r))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]supplierPayload, 0, len(suppliers))
	for _, s := range suppliers {
		payload = append(payload, supplierPayload{ID: s.ID, Code: s.Code, Name: s.Name, Email: s.Email, IsActive: s.IsActive})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suppliers": payload, "pagination": page})
}

func (h *Handler) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), SupplierInput{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		Email:    req.Email,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplierPayload{ID: supplier.ID, Code: supplier.Code, Name: supplier.Name, Email: supplier.Email, IsActive: supplier.IsActive})
}

func (h *Handler) handleDeactivateSupplier(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	if err := h.service.DeactivateSupplier(r.Context(), tenantID, pathInt64(r, "supplierID"), 0); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("masterdata handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toProductPayload(p Product) productPayload {
	return productPayload{
		ID:            p.ID,
		SKU:           p.SKU,
		Name:          p.Name,
		MinStockLevel: p.MinStockLevel,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func listFilterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return ListFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("active") == "true",
		Page:       page,
		PerPage:    perPage,
	}
}

func pathInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
