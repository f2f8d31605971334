// Package audit exposes the read side of the audit trail written by
// the other modules.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// ErrValidation marks rejected filter input.
var ErrValidation = errors.New("validation failed")

const maxPerPage = 100

// TimelineEntry is one recorded action.
type TimelineEntry struct {
	ID         int64
	TenantID   uuid.UUID
	ActorID    int64
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	OccurredAt time.Time
}

// TimelineFilter narrows the timeline listing.
type TimelineFilter struct {
	Entity   string
	EntityID string
	Action   string
	ActorID  int64
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	ListTimeline(ctx context.Context, tenantID uuid.UUID, filter TimelineFilter) ([]TimelineEntry, shared.Pagination, error)
}

// Service coordinates timeline reads.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the audit read service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline lists recorded actions for the tenant, newest first.
func (s *Service) Timeline(ctx context.Context, tenantID uuid.UUID, filter TimelineFilter) ([]TimelineEntry, shared.Pagination, error) {
	if filter.PerPage > maxPerPage {
		return nil, shared.Pagination{}, fmt.Errorf("%w: per_page must not exceed %d", ErrValidation, maxPerPage)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Pagination{}, fmt.Errorf("%w: to must not precede from", ErrValidation)
	}
	if filter.EntityID != "" && filter.Entity == "" {
		return nil, shared.Pagination{}, fmt.Errorf("%w: entity is required when entity_id is set", ErrValidation)
	}
	return s.repo.ListTimeline(ctx, tenantID, filter)
}
