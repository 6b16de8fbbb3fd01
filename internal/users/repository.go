package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/venuedesk/venuedesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const listUsersSQL = `SELECT u.id, u.email, COALESCE(u.full_name, ''), u.is_active, u.created_at,
       COALESCE(array_agg(r.id ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}'),
       COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id`

func scanUser(row pgx.CollectableRow) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.RoleIDs, &u.RoleNames)
	return u, err
}

// ListUsers returns all users with their roles, ordered by email.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, listUsersSQL+` GROUP BY u.id ORDER BY lower(u.email)`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanUser)
}

// GetUser fetches one user with roles.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	rows, err := r.pool.Query(ctx, listUsersSQL+` WHERE u.id = $1 GROUP BY u.id`, id)
	if err != nil {
		return User{}, err
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// ReplaceRoles swaps the user's role set in one transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if len(roleIDs) > 0 {
			var known int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE id = ANY($1)`, roleIDs).Scan(&known); err != nil {
				return err
			}
			if known != len(roleIDs) {
				return ErrUnknownRole
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, id := range roleIDs {
			batch.Queue(`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, id)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
