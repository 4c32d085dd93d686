package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkdeck/linkdeck/internal/shared"
)

const selectUser = `SELECT u.id, u.email, u.name, u.type, u.plan, u.is_active, u.created_at, u.updated_at,
	COALESCE(ARRAY(SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = u.id ORDER BY r.name), '{}')
FROM users u`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID loads a user with global role names.
func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	return r.scanOne(ctx, selectUser+` WHERE u.id = $1`, id)
}

// FindByEmail loads a user by case-insensitive email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.scanOne(ctx, selectUser+` WHERE lower(u.email) = lower($1)`, strings.TrimSpace(email))
}

// ListUsers returns a page of users and the total count.
func (r *Repository) ListUsers(ctx context.Context, filters ListFilters) ([]User, int, error) {
	search := "%" + strings.ToLower(strings.TrimSpace(filters.Search)) + "%"
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM users u WHERE lower(u.email) LIKE $1 OR lower(u.name) LIKE $1`, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	offset := (filters.Page - 1) * filters.Limit
	rows, err := r.pool.Query(ctx, selectUser+` WHERE lower(u.email) LIKE $1 OR lower(u.name) LIKE $1 ORDER BY u.id LIMIT $2 OFFSET $3`, search, filters.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("user: %w", shared.ErrNotFound)
		}
		return User{}, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var typ string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &typ, &u.Plan, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.Roles); err != nil {
		return User{}, err
	}
	u.Type = Type(typ)
	return u, nil
}

var _ RepositoryPort = (*Repository)(nil)
