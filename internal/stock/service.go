package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockLevel(ctx context.Context, key LevelKey) (StockLevel, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]MovementEvent, shared.Pagination, error)
	ListLowStockAlerts(ctx context.Context, tenantID uuid.UUID, filter AlertFilter) ([]LowStockAlert, shared.Pagination, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups tunable settings.
type ServiceConfig struct {
	// DefaultAlertThreshold applies when a product has no configured
	// minimum stock level.
	DefaultAlertThreshold int64
	// AlertCooldown throttles re-notification while an alert stays active.
	AlertCooldown time.Duration
}

// Service owns the movement ledger and is the single writer of the
// stock level and low-stock alert projections.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *LevelCache
	notifier    NotifierPort
	serials     SerialIndexPort
	metrics     MetricsPort
	logger      *slog.Logger
	cfg         ServiceConfig
}

// NewService builds Service. Audit, idempotency, cache, notifier,
// serials and metrics are optional.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache *LevelCache, notifier NotifierPort, serials SerialIndexPort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.DefaultAlertThreshold <= 0 {
		cfg.DefaultAlertThreshold = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		notifier:    notifier,
		serials:     serials,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

// ApplyResult reports the outcome of applying one movement.
type ApplyResult struct {
	Event       MovementEvent
	Level       StockLevel
	AlertRaised bool
	Alert       LowStockAlert
}

// AppendMovement appends a ledger event and applies it to the stock
// level projection in one transaction. Once it returns the event is
// permanent; a projection failure rolls the append back entirely.
func (s *Service) AppendMovement(ctx context.Context, input MovementInput) (ApplyResult, error) {
	if err := validateMovement(input); err != nil {
		return ApplyResult{}, err
	}
	insertedKey := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "stock"); err != nil {
			return ApplyResult{}, err
		}
		insertedKey = true
	}
	var res ApplyResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.Apply(ctx, tx, input)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return ApplyResult{}, err
	}
	s.AfterApply(ctx, []ApplyResult{res})
	return res, nil
}

// Apply validates and applies one movement inside the caller's
// transaction. It is the only code path that writes the stock level and
// low-stock alert projections; the purchase-order receipt loop reuses it
// so a multi-line receipt shares a single transaction.
func (s *Service) Apply(ctx context.Context, tx TxRepository, input MovementInput) (ApplyResult, error) {
	if err := validateMovement(input); err != nil {
		return ApplyResult{}, err
	}
	if input.SerialNumber != "" && s.serials != nil {
		inbound := input.QuantityChange > 0
		if err := s.serials.CheckSerial(ctx, input.TenantID, input.ProductID, input.SerialNumber, inbound); err != nil {
			return ApplyResult{}, fmt.Errorf("stock: serial index rejected %q: %w", input.SerialNumber, err)
		}
	}
	if err := tx.CheckProduct(ctx, input.TenantID, input.ProductID, input.VariantID); err != nil {
		return ApplyResult{}, err
	}
	if err := tx.CheckLocation(ctx, input.TenantID, input.LocationID); err != nil {
		return ApplyResult{}, err
	}
	if input.RefType != "" {
		if err := tx.CheckReference(ctx, input.TenantID, input.RefType, input.RefID); err != nil {
			return ApplyResult{}, err
		}
	}

	key := input.Key()
	level, err := tx.GetLevelForUpdate(ctx, key)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return ApplyResult{}, err
	}
	if errors.Is(err, ErrLevelNotFound) {
		level = StockLevel{TenantID: key.TenantID, ProductID: key.ProductID, VariantID: key.VariantID, LocationID: key.LocationID}
	}

	newQty := level.CurrentStock + input.QuantityChange
	if newQty < 0 {
		if !overrideMovement(input.Type, input.Reason) {
			if s.metrics != nil {
				s.metrics.RecordStockInsufficient()
			}
			return ApplyResult{}, &StockInsufficientError{Key: key, Current: level.CurrentStock, Requested: input.QuantityChange}
		}
		// Override movements floor at zero; the true delta stays in the
		// ledger so variance remains derivable by replay.
		s.logger.Warn("override movement floored negative stock",
			slog.String("key", key.String()),
			slog.String("movement_type", string(input.Type)),
			slog.String("movement_reason", string(input.Reason)),
			slog.Int64("current", level.CurrentStock),
			slog.Int64("change", input.QuantityChange))
		newQty = 0
	}

	now := time.Now().UTC()
	if input.QuantityChange > 0 && input.CostPerUnit > 0 && newQty > 0 {
		totalCost := float64(level.CurrentStock)*level.CostPerUnit + float64(input.QuantityChange)*input.CostPerUnit
		level.CostPerUnit = totalCost / float64(newQty)
	}
	level.CurrentStock = newQty
	if level.ReservedStock > level.CurrentStock {
		level.ReservedStock = level.CurrentStock
	}
	level.LastMovementAt = now
	if input.Type == MovementTypeAudit {
		level.LastCountedAt = now
	}

	event := MovementEvent{
		TenantID:       input.TenantID,
		ProductID:      input.ProductID,
		VariantID:      input.VariantID,
		LocationID:     input.LocationID,
		Type:           input.Type,
		Reason:         input.Reason,
		QuantityChange: input.QuantityChange,
		CostPerUnit:    input.CostPerUnit,
		RefType:        input.RefType,
		RefID:          input.RefID,
		BatchNumber:    input.BatchNumber,
		SerialNumber:   input.SerialNumber,
		Note:           input.Note,
		ActorID:        input.ActorID,
		OccurredAt:     now,
	}
	eventID, err := tx.InsertMovement(ctx, event)
	if err != nil {
		return ApplyResult{}, err
	}
	event.ID = eventID

	if err := tx.UpsertLevel(ctx, level); err != nil {
		return ApplyResult{}, err
	}

	alert, raised, err := s.recomputeAlert(ctx, tx, level, now)
	if err != nil {
		return ApplyResult{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordMovement(string(input.Type))
		if raised {
			s.metrics.RecordAlertRaised()
		}
	}
	return ApplyResult{Event: event, Level: level, AlertRaised: raised, Alert: alert}, nil
}

// recomputeAlert re-derives the low-stock alert row for the key after
// a projection change. Rows are created lazily on the first breach and
// deactivated, never deleted, when stock recovers.
func (s *Service) recomputeAlert(ctx context.Context, tx TxRepository, level StockLevel, now time.Time) (LowStockAlert, bool, error) {
	threshold, err := tx.ProductMinStock(ctx, level.TenantID, level.ProductID, level.VariantID)
	if err != nil {
		return LowStockAlert{}, false, err
	}
	if threshold <= 0 {
		threshold = s.cfg.DefaultAlertThreshold
	}

	alert, err := tx.GetAlertForUpdate(ctx, level.Key())
	if err != nil && !errors.Is(err, ErrAlertNotFound) {
		return LowStockAlert{}, false, err
	}
	breached := level.CurrentStock <= threshold

	if errors.Is(err, ErrAlertNotFound) {
		if !breached {
			return LowStockAlert{}, false, nil
		}
		alert = LowStockAlert{
			TenantID:      level.TenantID,
			ProductID:     level.ProductID,
			VariantID:     level.VariantID,
			LocationID:    level.LocationID,
			Threshold:     threshold,
			CurrentStock:  level.CurrentStock,
			IsActive:      true,
			LastAlertedAt: now,
			Cooldown:      s.cfg.AlertCooldown,
		}
		if err := tx.UpsertAlert(ctx, alert); err != nil {
			return LowStockAlert{}, false, err
		}
		return alert, true, nil
	}

	alert.CurrentStock = level.CurrentStock
	alert.Threshold = threshold
	raised := false
	if breached {
		if !alert.IsActive {
			// Rising edge: the breach just began.
			alert.IsActive = true
			alert.LastAlertedAt = now
			raised = true
		} else if alert.Cooldown > 0 && now.Sub(alert.LastAlertedAt) >= alert.Cooldown {
			alert.LastAlertedAt = now
			raised = true
		}
	} else {
		alert.IsActive = false
	}
	if err := tx.UpsertAlert(ctx, alert); err != nil {
		return LowStockAlert{}, false, err
	}
	return alert, raised, nil
}

// AfterApply runs post-commit side effects for applied movements: cache
// invalidation, audit trail and alert notification hand-off. Callers
// that drove Apply inside their own transaction must call it once the
// transaction committed.
func (s *Service) AfterApply(ctx context.Context, results []ApplyResult) {
	for _, res := range results {
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, res.Level.Key()); err != nil {
				s.logger.Warn("invalidate level cache", slog.Any("error", err))
			}
		}
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				TenantID: res.Event.TenantID,
				ActorID:  res.Event.ActorID,
				Action:   fmt.Sprintf("stock:%s", res.Event.Type),
				Entity:   "stock_movement",
				EntityID: fmt.Sprintf("%d", res.Event.ID),
				Meta: map[string]any{
					"product_id":  res.Event.ProductID,
					"variant_id":  res.Event.VariantID,
					"location_id": res.Event.LocationID,
					"reason":      string(res.Event.Reason),
					"qty_change":  res.Event.QuantityChange,
				},
			})
		}
		if res.AlertRaised && s.notifier != nil {
			evt := LowStockRaisedEvent{
				TenantID:     res.Alert.TenantID,
				ProductID:    res.Alert.ProductID,
				VariantID:    res.Alert.VariantID,
				LocationID:   res.Alert.LocationID,
				CurrentStock: res.Alert.CurrentStock,
				Threshold:    res.Alert.Threshold,
				RaisedAt:     res.Alert.LastAlertedAt,
			}
			if err := s.notifier.NotifyLowStock(ctx, evt); err != nil {
				s.logger.Warn("enqueue low stock notification", slog.Any("error", err))
			}
		}
	}
}

// Reserve earmarks quantity against a level. Reservations are not
// ledger events; they only move stock between available and reserved.
func (s *Service) Reserve(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if err := validateReservation(input); err != nil {
		return StockLevel{}, err
	}
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		key := LevelKey{TenantID: input.TenantID, ProductID: input.ProductID, VariantID: input.VariantID, LocationID: input.LocationID}
		var err error
		level, err = tx.GetLevelForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if level.ReservedStock+input.Quantity > level.CurrentStock {
			return &StockInsufficientError{Key: key, Current: level.AvailableStock(), Requested: input.Quantity}
		}
		level.ReservedStock += input.Quantity
		return tx.UpsertLevel(ctx, level)
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.invalidate(ctx, level.Key())
	return level, nil
}

// Release returns reserved quantity to the available pool.
func (s *Service) Release(ctx context.Context, input ReservationInput) (StockLevel, error) {
	if err := validateReservation(input); err != nil {
		return StockLevel{}, err
	}
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		key := LevelKey{TenantID: input.TenantID, ProductID: input.ProductID, VariantID: input.VariantID, LocationID: input.LocationID}
		var err error
		level, err = tx.GetLevelForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if input.Quantity > level.ReservedStock {
			return fmt.Errorf("%w: release %d exceeds reserved %d", ErrValidation, input.Quantity, level.ReservedStock)
		}
		level.ReservedStock -= input.Quantity
		return tx.UpsertLevel(ctx, level)
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.invalidate(ctx, level.Key())
	return level, nil
}

// GetStockLevel returns the projection for one key, cache-aside.
func (s *Service) GetStockLevel(ctx context.Context, key LevelKey) (StockLevel, error) {
	if s.cache != nil {
		if level, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return level, nil
		}
	}
	level, err := s.repo.GetStockLevel(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, level); err != nil {
			s.logger.Warn("cache stock level", slog.Any("error", err))
		}
	}
	return level, nil
}

// ListMovements lists ledger entries matching the filter.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]MovementEvent, shared.Pagination, error) {
	if filter.TenantID == uuid.Nil {
		return nil, shared.Pagination{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	return s.repo.ListMovements(ctx, filter)
}

// ListLowStockAlerts lists alert rows for a tenant.
func (s *Service) ListLowStockAlerts(ctx context.Context, tenantID uuid.UUID, filter AlertFilter) ([]LowStockAlert, shared.Pagination, error) {
	if tenantID == uuid.Nil {
		return nil, shared.Pagination{}, fmt.Errorf("%w: tenant required", ErrValidation)
	}
	return s.repo.ListLowStockAlerts(ctx, tenantID, filter)
}

func (s *Service) invalidate(ctx context.Context, key LevelKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.logger.Warn("invalidate level cache", slog.Any("error", err))
	}
}

func validateMovement(input MovementInput) error {
	if input.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if input.ProductID == 0 || input.LocationID == 0 {
		return fmt.Errorf("%w: product and location required", ErrValidation)
	}
	if !input.Type.Valid() {
		return fmt.Errorf("%w: unknown movement type %q", ErrValidation, input.Type)
	}
	if !input.Reason.Valid() {
		return fmt.Errorf("%w: unknown movement reason %q", ErrValidation, input.Reason)
	}
	if input.QuantityChange == 0 {
		return fmt.Errorf("%w: quantity change must be non-zero", ErrValidation)
	}
	if input.Type == MovementTypeIn && input.QuantityChange < 0 {
		return fmt.Errorf("%w: inbound movement requires positive quantity", ErrValidation)
	}
	if input.Type == MovementTypeOut && input.QuantityChange > 0 {
		return fmt.Errorf("%w: outbound movement requires negative quantity", ErrValidation)
	}
	if input.CostPerUnit < 0 {
		return fmt.Errorf("%w: cost per unit must be >= 0", ErrValidation)
	}
	return nil
}

func validateReservation(input ReservationInput) error {
	if input.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant required", ErrValidation)
	}
	if input.ProductID == 0 || input.LocationID == 0 {
		return fmt.Errorf("%w: product and location required", ErrValidation)
	}
	if input.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return nil
}
