package audit

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind-erp/internal/shared"
)

// Repository implements RepositoryPort on pgx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListTimeline(ctx context.Context, tenantID uuid.UUID, filter TimelineFilter) ([]TimelineEntry, shared.Pagination, error) {
	where := ` WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Entity != "" {
		args = append(args, filter.Entity)
		where += ` AND entity = $` + strconv.Itoa(len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where += ` AND entity_id = $` + strconv.Itoa(len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		where += ` AND action = $` + strconv.Itoa(len(args))
	}
	if filter.ActorID != 0 {
		args = append(args, filter.ActorID)
		where += ` AND actor_id = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND occurred_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND occurred_at <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, err
	}

	page := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := `SELECT id, tenant_id, actor_id, action, entity, entity_id, meta, occurred_at FROM audit_logs` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, page.PerPage, (page.Page-1)*page.PerPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		var entry TimelineEntry
		var metaJSON []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &metaJSON, &entry.OccurredAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &entry.Meta); err != nil {
				return nil, shared.Pagination{}, err
			}
		}
		out = append(out, entry)
	}
	return out, page, rows.Err()
}
