package stock

import (
	"context"
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

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleAppendMovement)
	r.Get("/movements", h.handleListMovements)
	r.Get("/levels", h.handleGetLevel)
	r.Post("/reservations", h.handleReserve)
	r.Delete("/reservations", h.handleRelease)
	r.Get("/alerts", h.handleListAlerts)
}

type movementRequest struct {
	ProductID      int64   `json:"product_id" validate:"required"`
	VariantID      int64   `json:"variant_id"`
	LocationID     int64   `json:"location_id" validate:"required"`
	Type           string  `json:"type" validate:"required"`
	Reason         string  `json:"reason" validate:"required"`
	QuantityChange int64   `json:"quantity_change" validate:"required"`
	CostPerUnit    float64 `json:"cost_per_unit" validate:"gte=0"`
	RefType        string  `json:"ref_type"`
	RefID          int64   `json:"ref_id"`
	BatchNumber    string  `json:"batch_number"`
	SerialNumber   string  `json:"serial_number"`
	Note           string  `json:"note"`
	ActorID        int64   `json:"actor_id"`
}

type movementResponse struct {
	Movement movementPayload `json:"movement"`
	Level    levelPayload    `json:"level"`
	Alert    *alertPayload   `json:"alert,omitempty"`
}

type movementPayload struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	VariantID      int64     `json:"variant_id,omitempty"`
	LocationID     int64     `json:"location_id"`
	Type           string    `json:"type"`
	Reason         string    `json:"reason"`
	QuantityChange int64     `json:"quantity_change"`
	CostPerUnit    float64   `json:"cost_per_unit,omitempty"`
	RefType        string    `json:"ref_type,omitempty"`
	RefID          int64     `json:"ref_id,omitempty"`
	BatchNumber    string    `json:"batch_number,omitempty"`
	SerialNumber   string    `json:"serial_number,omitempty"`
	Note           string    `json:"note,omitempty"`
	ActorID        int64     `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type levelPayload struct {
	ProductID      int64      `json:"product_id"`
	VariantID      int64      `json:"variant_id,omitempty"`
	LocationID     int64      `json:"location_id"`
	CurrentStock   int64      `json:"current_stock"`
	ReservedStock  int64      `json:"reserved_stock"`
	AvailableStock int64      `json:"available_stock"`
	CostPerUnit    float64    `json:"cost_per_unit"`
	TotalCost      float64    `json:"total_cost"`
	LastMovementAt *time.Time `json:"last_movement_at,omitempty"`
	LastCountedAt  *time.Time `json:"last_counted_at,omitempty"`
}

type alertPayload struct {
	ProductID     int64     `json:"product_id"`
	VariantID     int64     `json:"variant_id,omitempty"`
	LocationID    int64     `json:"location_id"`
	Threshold     int64     `json:"threshold"`
	CurrentStock  int64     `json:"current_stock"`
	IsActive      bool      `json:"is_active"`
	LastAlertedAt time.Time `json:"last_alerted_at"`
}

type reservationRequest struct {
	ProductID  int64 `json:"product_id" validate:"required"`
	VariantID  int64 `json:"variant_id"`
	LocationID int64 `json:"location_id" validate:"required"`
	Quantity   int64 `json:"quantity" validate:"required,gt=0"`
	ActorID    int64 `json:"actor_id"`
}

func (h *Handler) handleAppendMovement(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := MovementInput{
		TenantID:       tenantID,
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		LocationID:     req.LocationID,
		Type:           MovementType(req.Type),
		Reason:         MovementReason(req.Reason),
		QuantityChange: req.QuantityChange,
		CostPerUnit:    req.CostPerUnit,
		RefType:        req.RefType,
		RefID:          req.RefID,
		BatchNumber:    req.BatchNumber,
		SerialNumber:   req.SerialNumber,
		Note:           req.Note,
		ActorID:        req.ActorID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	res, err := h.service.AppendMovement(r.Context(), input)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	resp := movementResponse{
		Movement: toMovementPayload(res.Event),
		Level:    toLevelPayload(res.Level),
	}
	if res.AlertRaised {
		alert := toAlertPayload(res.Alert)
		resp.Alert = &alert
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{
		TenantID:   tenantID,
		ProductID:  queryInt64(q.Get("product_id")),
		VariantID:  queryInt64(q.Get("variant_id")),
		LocationID: queryInt64(q.Get("location_id")),
		RefType:    q.Get("ref_type"),
		RefID:      queryInt64(q.Get("ref_id")),
		Page:       int(queryInt64(q.Get("page"))),
		PerPage:    int(queryInt64(q.Get("per_page"))),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be RFC3339")
			return
		}
		filter.To = t
	}
	events, page, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]movementPayload, 0, len(events))
	for _, e := range events {
		payload = append(payload, toMovementPayload(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": payload, "pagination": page})
}

func (h *Handler) handleGetLevel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	q := r.URL.Query()
	key := LevelKey{
		TenantID:   tenantID,
		ProductID:  queryInt64(q.Get("product_id")),
		VariantID:  queryInt64(q.Get("variant_id")),
		LocationID: queryInt64(q.Get("location_id")),
	}
	if key.ProductID == 0 || key.LocationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and location_id are required")
		return
	}
	level, err := h.service.GetStockLevel(r.Context(), key)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelPayload(level))
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	h.handleReservation(w, r, h.service.Reserve)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.handleReservation(w, r, h.service.Release)
}

func (h *Handler) handleReservation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, input ReservationInput) (StockLevel, error)) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	var req reservationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	level, err := op(r.Context(), ReservationInput{
		TenantID:   tenantID,
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		LocationID: req.LocationID,
		Quantity:   req.Quantity,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLevelPayload(level))
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Missing Tenant", "tenant id not resolved")
		return
	}
	q := r.URL.Query()
	filter := AlertFilter{
		LocationID: queryInt64(q.Get("location_id")),
		ActiveOnly: q.Get("active") == "true",
		Page:       int(queryInt64(q.Get("page"))),
		PerPage:    int(queryInt64(q.Get("per_page"))),
	}
	alerts, page, err := h.service.ListLowStockAlerts(r.Context(), tenantID, filter)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	payload := make([]alertPayload, 0, len(alerts))
	for _, a := range alerts {
		payload = append(payload, toAlertPayload(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"alerts": payload, "pagination": page})
}

func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrStockInsufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, ErrInvalidReference):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Reference", err.Error())
	case errors.Is(err, ErrLevelNotFound), errors.Is(err, ErrAlertNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case Retryable(err):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", "concurrent update in progress, retry the request")
	default:
		h.logger.Error("stock handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toMovementPayload(e MovementEvent) movementPayload {
	return movementPayload{
		ID:             e.ID,
		ProductID:      e.ProductID,
		VariantID:      e.VariantID,
		LocationID:     e.LocationID,
		Type:           string(e.Type),
		Reason:         string(e.Reason),
		QuantityChange: e.QuantityChange,
		CostPerUnit:    e.CostPerUnit,
		RefType:        e.RefType,
		RefID:          e.RefID,
		BatchNumber:    e.BatchNumber,
		SerialNumber:   e.SerialNumber,
		Note:           e.Note,
		ActorID:        e.ActorID,
		OccurredAt:     e.OccurredAt,
	}
}

func toLevelPayload(l StockLevel) levelPayload {
	p := levelPayload{
		ProductID:      l.ProductID,
		VariantID:      l.VariantID,
		LocationID:     l.LocationID,
		CurrentStock:   l.CurrentStock,
		ReservedStock:  l.ReservedStock,
		AvailableStock: l.AvailableStock(),
		CostPerUnit:    l.CostPerUnit,
		TotalCost:      l.TotalCost(),
	}
	if !l.LastMovementAt.IsZero() {
		t := l.LastMovementAt
		p.LastMovementAt = &t
	}
	if !l.LastCountedAt.IsZero() {
		t := l.LastCountedAt
		p.LastCountedAt = &t
	}
	return p
}

func toAlertPayload(a LowStockAlert) alertPayload {
	return alertPayload{
		ProductID:     a.ProductID,
		VariantID:     a.VariantID,
		LocationID:    a.LocationID,
		Threshold:     a.Threshold,
		CurrentStock:  a.CurrentStock,
		IsActive:      a.IsActive,
		LastAlertedAt: a.LastAlertedAt,
	}
}

func queryInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
