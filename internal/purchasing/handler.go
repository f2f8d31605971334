package purchasing

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
	"github.com/tradewind-erp/tradewind-erp/internal/stock"
)

// Handler wires HTTP endpoints for the purchasing module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{orderID}", h.handleGetOrder)
	r.Post("/orders/{orderID}/transition", h.handleTransition)
}

type createOrderRequest struct {
	SupplierID  int64              `json:"supplier_id" validate:"required"`
	LocationID  int64              `json:"location_id" validate:"required"`
	OrderNumber string             `json:"order_number" validate:"required"`
	Tax         float64            `json:"tax" validate:"gte=0"`
	Shipping    float64            `json:"shipping" validate:"gte=0"`
	OrderDate   string             `json:"order_date"`
	ExpectedAt  string             `json:"expected_at"`
	Note        string             `json:"note"`
	ActorID     int64              `json:"actor_id"`
	Items       []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type orderItemRequest struct {
	ProductID int64   `json:"product_id" validate:"required"`
	VariantID int64   `json:"variant_id"`
	Quantity  int64   `json:"quantity" validate:"required,gt=0"`
	UnitCost  float64 `json:"unit_cost" validate:"required,gt=0"`
}

type transitionRequest struct {
	Status  string               `json:"status" validate:"required"`
	ActorID int64                `json:"actor_id"`
	Lines   []receiptLineRequest `json:"lines" validate:"dive"`
}

type receiptLineRequest struct {
	ItemID   int64 `json:"item_id" validate:"required"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type orderPayload struct {
	ID          int64         `json:"id"`
	SupplierID  int64         `json:"supplier_id"`
	LocationID  int64         `json:"location_id"`
	OrderNumber string        `json:"order_number"`
	Status      string        `json:"status"`
	Subtotal    float64       `json:"subtotal"`
	Tax         float64       `json:"tax"`
	Shipping    float64       `json:"shipping"`
	Total       float64       `json:"total"`
	OrderDate   time.Time     `json:"order_date"`
	ExpectedAt  *time.Time    `json:"expected_at,omitempty"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	ReceivedAt  *time.Time    `json:"received_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Note        string        `json:"note,omitempty"`
	Items       []itemPayload `json:"items,omitempty"`
}

type itemPayload struct {
	ID               int64   `json:"id"`
	ProductID        int64   `json:"product_id"`
	VariantID        int64   `json:"variant_id,omitempty"`
	QuantityOrdered  int64   `json:"quantity_ordered"`
	QuantityReceived int64   `json:"quantity_received"`
	UnitCost         float64 `json:"unit_cost"`
	LineTotal        float64 `json:"line_total"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateOrderInput{
		TenantID:    tenantID,
		SupplierID:  req.SupplierID,
		LocationID:  req.LocationID,
		OrderNumber: req.OrderNumber,
		Tax:         req.Tax,
		Shipping:    req.Shipping,
		Note:        req.Note,
		ActorID:     req.ActorID,
	}
	if req.OrderDate != "" {
		t, err := time.Parse("2006-01-02", req.OrderDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order_date must be YYYY-MM-DD")
			return
		}
		input.OrderDate = t
	}
	if req.ExpectedAt != "" {
		t, err := time.Parse("2006-01-02", req.ExpectedAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expected_at must be YYYY-MM-DD")
			return
		}
		input.ExpectedAt = t
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, OrderItemInput{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}
	order, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOrderPayload(order))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order id must be numeric")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := TransitionInput{
		TenantID:  tenantID,
		OrderID:   orderID,
		NewStatus: Status(req.Status),
		ActorID:   req.ActorID,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReceiptLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	order, err := h.service.Transition(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderPayload(order))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order id must be numeric")
		return
	}
	order, err := h.service.GetOrder(r.Context(), tenantID, orderID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toOrderPayload(order))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	q := r.URL.Query()
	filter := OrderFilter{
		Status: Status(q.Get("status")),
	}
	if v := q.Get("supplier_id"); v != "" {
		filter.SupplierID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("page"); v != "" {
		page, _ := strconv.Atoi(v)
		filter.Page = page
	}
	if v := q.Get("per_page"); v != "" {
		perPage, _ := strconv.Atoi(v)
		filter.PerPage = perPage
	}
	orders, page, err := h.service.ListOrders(r.Context(), tenantID, filter)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, toOrderPayload(order))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": payload, "pagination": page})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidStatusTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate Order Number", err.Error())
	case errors.Is(err, stock.ErrStockInsufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, stock.ErrInvalidReference):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Reference", err.Error())
	case errors.Is(err, stock.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case stock.Retryable(err):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", "concurrent update in progress, retry the request")
	default:
		h.logger.Error("purchasing handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toOrderPayload(order PurchaseOrder) orderPayload {
	p := orderPayload{
		ID:          order.ID,
		SupplierID:  order.SupplierID,
		LocationID:  order.LocationID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Subtotal:    order.Subtotal,
		Tax:         order.Tax,
		Shipping:    order.Shipping,
		Total:       order.Total,
		OrderDate:   order.OrderDate,
		Note:        order.Note,
	}
	p.ExpectedAt = optTime(order.ExpectedAt)
	p.ApprovedAt = optTime(order.ApprovedAt)
	p.ReceivedAt = optTime(order.ReceivedAt)
	p.CompletedAt = optTime(order.CompletedAt)
	for _, item := range order.Items {
		p.Items = append(p.Items, itemPayload{
			ID:               item.ID,
			ProductID:        item.ProductID,
			VariantID:        item.VariantID,
			QuantityOrdered:  item.QuantityOrdered,
			QuantityReceived: item.QuantityReceived,
			UnitCost:         item.UnitCost,
			LineTotal:        item.LineTotal,
		})
	}
	return p
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
