package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// The upper bound is exclusive of the day after To.
const timelineSQL = `SELECT a.occurred_at, COALESCE(u.email, 'system'), a.action, a.entity, a.entity_id, COALESCE(a.meta::text, '')
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE a.occurred_at >= $1 AND a.occurred_at < $2::timestamptz + INTERVAL '1 day'
  AND ($3::text = '' OR u.email ILIKE '%' || $3 || '%')
  AND ($4 = '' OR a.entity = $4)
  AND ($5 = '' OR a.action LIKE $5 || '%')
ORDER BY a.occurred_at DESC, a.id DESC
LIMIT $6 OFFSET $7`

// Timeline returns matching entries, newest first.
func (r *PGRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineSQL, q.From, q.To, q.Actor, q.Entity, q.Action, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var t TimelineRow
		err := row.Scan(&t.At, &t.Actor, &t.Action, &t.Entity, &t.EntityID, &t.Meta)
		return t, err
	})
}
