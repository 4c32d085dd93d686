package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkdeck/linkdeck/internal/platform/db"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindCredentials(ctx context.Context, email string) (Credentials, error)
	CreateSession(ctx context.Context, rec SessionRecord) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{q: pool}
}

// FindCredentials fetches the password hash registered for email.
func (r *PGRepository) FindCredentials(ctx context.Context, email string) (Credentials, error) {
	var c Credentials
	err := r.q.QueryRow(ctx, `SELECT id, email, password_hash, is_active FROM users WHERE LOWER(email) = $1`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.IsActive)
	if err != nil {
		if db.IsNoRows(err) {
			return Credentials{}, fmt.Errorf("credentials: %w", shared.ErrNotFound)
		}
		return Credentials{}, err
	}
	return c, nil
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, rec SessionRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.q.Exec(ctx, `INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		rec.ID, rec.UserID, created.UTC(), rec.ExpiresAt.UTC(), rec.IP, rec.UserAgent)
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
