package shortlinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/venuedesk/venuedesk/internal/platform/db"
)

// Repository persists links and their clicks.
type Repository interface {
	Create(ctx context.Context, link Link) (Link, error)
	GetByCode(ctx context.Context, code string) (Link, error)
	List(ctx context.Context, limit, offset int) ([]Link, int, error)
	RecordClick(ctx context.Context, click Click) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PGRepository stores links in short_links and short_link_clicks.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres-backed repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

var _ Repository = (*PGRepository)(nil)

const uniqueViolation = "23505"

const linkColumns = `id, code, COALESCE(name, ''), destination, click_count, created_by, created_at, last_clicked_at`

func scanLink(row pgx.CollectableRow) (Link, error) {
	var l Link
	err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Destination, &l.ClickCount, &l.CreatedBy, &l.CreatedAt, &l.LastClickedAt)
	return l, err
}

// Create inserts link. A duplicate code yields ErrCodeTaken.
func (r *PGRepository) Create(ctx context.Context, link Link) (Link, error) {
	rows, err := r.db.Query(ctx, `INSERT INTO short_links (id, code, name, destination, created_by, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
RETURNING `+linkColumns,
		link.ID, link.Code, link.Name, link.Destination, link.CreatedBy, link.CreatedAt)
	if err != nil {
		return Link{}, err
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanLink)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Link{}, ErrCodeTaken
		}
		return Link{}, err
	}
	return created, nil
}

// GetByCode loads a link by its code.
func (r *PGRepository) GetByCode(ctx context.Context, code string) (Link, error) {
	rows, err := r.db.Query(ctx, `SELECT `+linkColumns+` FROM short_links WHERE code = $1`, code)
	if err != nil {
		return Link{}, err
	}
	link, err := pgx.CollectExactlyOneRow(rows, scanLink)
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, ErrNotFound
	}
	return link, err
}

// List returns a page of links, newest first, with the total count.
func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]Link, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM short_links`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count short links: %w", err)
	}
	rows, err := r.db.Query(ctx, `SELECT `+linkColumns+` FROM short_links ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	links, err := pgx.CollectRows(rows, scanLink)
	if err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

// RecordClick stores the click and bumps the link's counters in one
// statement so concurrent redirects never conflict.
func (r *PGRepository) RecordClick(ctx context.Context, click Click) error {
	_, err := r.db.Exec(ctx, `WITH inserted AS (
	INSERT INTO short_link_clicks (link_id, clicked_at, referrer, user_agent)
	VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))
)
UPDATE short_links SET click_count = click_count + 1, last_clicked_at = $2 WHERE id = $1`,
		click.LinkID, click.At, click.Referrer, click.UserAgent)
	return err
}

// Delete removes a link and its click history.
func (r *PGRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM short_links WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
