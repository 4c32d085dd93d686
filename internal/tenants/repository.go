package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkdeck/linkdeck/internal/platform/db"
	"github.com/linkdeck/linkdeck/internal/rbac"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// Lookup resolves tenants for request routing.
type Lookup interface {
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	FindByDomain(ctx context.Context, host string) (Tenant, error)
}

// MembershipReader answers membership questions for access decisions.
type MembershipReader interface {
	GetMembership(ctx context.Context, tenantID, userID int64) (Membership, error)
}

// Reader exposes read operations available inside and outside transactions.
type Reader interface {
	Lookup
	MembershipReader
	ListTenants(ctx context.Context) ([]Tenant, error)
	ListAccessible(ctx context.Context, userID int64) ([]Tenant, error)
	ListMembers(ctx context.Context, tenantID int64) ([]Membership, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Reader
	LockUser(ctx context.Context, userID int64) error
	CountOwned(ctx context.Context, ownerID int64) (int, error)
	InsertTenant(ctx context.Context, t Tenant) (Tenant, error)
	UpsertMembership(ctx context.Context, m Membership) error
	FindMembershipByToken(ctx context.Context, token string) (Membership, error)
	ActivateMembership(ctx context.Context, tenantID, userID int64, at time.Time) error
	UpdateMembershipRole(ctx context.Context, tenantID, userID int64, role string) error
	DeleteMembership(ctx context.Context, tenantID, userID int64) (int64, error)
	GrantGlobalRole(ctx context.Context, userID int64, role string) (bool, error)
	ReplaceGlobalRoles(ctx context.Context, userID int64, role string) ([]string, error)
	InsertEmailInvitation(ctx context.Context, inv EmailInvitation) (EmailInvitation, error)
	EmailInvitations(ctx context.Context, email string) ([]EmailInvitation, error)
	DeleteEmailInvitations(ctx context.Context, ids []int64) error
}

// Repository is the persistence port used by Service.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	store
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{store: store{q: pool}, pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, store{q: tx})
	})
}

// TenantIDForPage returns the tenant owning a link page.
func (r *PGRepository) TenantIDForPage(ctx context.Context, pageID int64) (int64, error) {
	var tenantID int64
	if err := r.q.QueryRow(ctx, `SELECT tenant_id FROM pages WHERE id = $1`, pageID).Scan(&tenantID); err != nil {
		return 0, notFound("page", err)
	}
	return tenantID, nil
}

type store struct {
	q db.Querier
}

const tenantColumns = `t.id, t.owner_id, t.name, t.slug, t.domain, t.is_active, t.created_at, t.updated_at`

const membershipColumns = `m.tenant_id, m.user_id, m.role, m.status, m.invitation_token, m.invitation_sent_at, m.invitation_accepted_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Slug, &t.Domain, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	err := row.Scan(&m.TenantID, &m.UserID, &m.Role, &m.Status, &m.InvitationToken, &m.InvitationSentAt, &m.InvitationAcceptedAt)
	return m, err
}

func notFound(kind string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", kind, shared.ErrNotFound)
	}
	return err
}

func (s store) collectTenants(ctx context.Context, query string, args ...any) ([]Tenant, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s store) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	t, err := scanTenant(s.q.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants t WHERE t.id = $1`, id))
	if err != nil {
		return Tenant{}, notFound("tenant", err)
	}
	return t, nil
}

func (s store) FindByDomain(ctx context.Context, host string) (Tenant, error) {
	t, err := scanTenant(s.q.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants t WHERE lower(t.domain) = lower($1)`, host))
	if err != nil {
		return Tenant{}, notFound("tenant", err)
	}
	return t, nil
}

func (s store) ListTenants(ctx context.Context) ([]Tenant, error) {
	return s.collectTenants(ctx, `SELECT `+tenantColumns+` FROM tenants t ORDER BY t.name`)
}

func (s store) ListAccessible(ctx context.Context, userID int64) ([]Tenant, error) {
	return s.collectTenants(ctx, `SELECT `+tenantColumns+` FROM tenants t
WHERE t.owner_id = $1
   OR EXISTS (SELECT 1 FROM tenant_membership m WHERE m.tenant_id = t.id AND m.user_id = $1 AND m.status = $2)
ORDER BY t.name`, userID, StatusActive)
}

func (s store) GetMembership(ctx context.Context, tenantID, userID int64) (Membership, error) {
	m, err := scanMembership(s.q.QueryRow(ctx, `SELECT `+membershipColumns+` FROM tenant_membership m WHERE m.tenant_id = $1 AND m.user_id = $2`, tenantID, userID))
	if err != nil {
		return Membership{}, notFound("membership", err)
	}
	return m, nil
}

func (s store) ListMembers(ctx context.Context, tenantID int64) ([]Membership, error) {
	rows, err := s.q.Query(ctx, `SELECT `+membershipColumns+` FROM tenant_membership m WHERE m.tenant_id = $1 ORDER BY m.user_id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LockUser serialises quota checks for one owner.
func (s store) LockUser(ctx context.Context, userID int64) error {
	var id int64
	err := s.q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	return notFound("user", err)
}

func (s store) CountOwned(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM tenants WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, err
}

func (s store) InsertTenant(ctx context.Context, t Tenant) (Tenant, error) {
	row := s.q.QueryRow(ctx, `INSERT INTO tenants (owner_id, name, slug, domain, is_active) VALUES ($1, $2, $3, $4, TRUE)
RETURNING id, owner_id, name, slug, domain, is_active, created_at, updated_at`, t.OwnerID, t.Name, t.Slug, t.Domain)
	created, err := scanTenant(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Tenant{}, shared.NewValidationError("slug", "slug or domain already taken")
		}
		return Tenant{}, err
	}
	return created, nil
}

func (s store) UpsertMembership(ctx context.Context, m Membership) error {
	_, err := s.q.Exec(ctx, `INSERT INTO tenant_membership (tenant_id, user_id, role, status, invitation_token, invitation_sent_at, invitation_accepted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role, status = EXCLUDED.status,
	invitation_token = EXCLUDED.invitation_token, invitation_sent_at = EXCLUDED.invitation_sent_at,
	invitation_accepted_at = EXCLUDED.invitation_accepted_at`,
		m.TenantID, m.UserID, m.Role, m.Status, m.InvitationToken, m.InvitationSentAt, m.InvitationAcceptedAt)
	return err
}

func (s store) FindMembershipByToken(ctx context.Context, token string) (Membership, error) {
	m, err := scanMembership(s.q.QueryRow(ctx, `SELECT `+membershipColumns+` FROM tenant_membership m WHERE m.invitation_token = $1 FOR UPDATE`, token))
	if err != nil {
		return Membership{}, notFound("invitation", err)
	}
	return m, nil
}

func (s store) ActivateMembership(ctx context.Context, tenantID, userID int64, at time.Time) error {
	_, err := s.q.Exec(ctx, `UPDATE tenant_membership SET status = $3, invitation_token = NULL, invitation_accepted_at = $4
WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID, StatusActive, at)
	return err
}

func (s store) UpdateMembershipRole(ctx context.Context, tenantID, userID int64, role string) error {
	tag, err := s.q.Exec(ctx, `UPDATE tenant_membership SET role = $3 WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("membership: %w", shared.ErrNotFound)
	}
	return nil
}

func (s store) DeleteMembership(ctx context.Context, tenantID, userID int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM tenant_membership WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// roleID returns the web-guard role id for name, creating the row when absent.
func (s store) roleID(ctx context.Context, name string) (int64, error) {
	if _, err := s.q.Exec(ctx, `INSERT INTO roles (name, guard) VALUES ($1, $2) ON CONFLICT (name, guard) DO NOTHING`, name, rbac.GuardWeb); err != nil {
		return 0, err
	}
	var id int64
	err := s.q.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1 AND guard = $2`, name, rbac.GuardWeb).Scan(&id)
	return id, err
}

// GrantGlobalRole adds role to the identity and reports whether it was missing.
func (s store) GrantGlobalRole(ctx context.Context, userID int64, role string) (bool, error) {
	id, err := s.roleID(ctx, role)
	if err != nil {
		return false, err
	}
	tag, err := s.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceGlobalRoles sets the identity's roles to exactly [role] and returns
// the names it stripped.
func (s store) ReplaceGlobalRoles(ctx context.Context, userID int64, role string) ([]string, error) {
	id, err := s.roleID(ctx, role)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.Query(ctx, `DELETE FROM user_roles ur USING roles r
WHERE ur.role_id = r.id AND ur.user_id = $1 AND ur.role_id <> $2
RETURNING r.name`, userID, id)
	if err != nil {
		return nil, err
	}
	stripped, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if _, err := s.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, id); err != nil {
		return nil, err
	}
	return stripped, nil
}

func (s store) InsertEmailInvitation(ctx context.Context, inv EmailInvitation) (EmailInvitation, error) {
	row := s.q.QueryRow(ctx, `INSERT INTO tenant_invitations (tenant_id, email, role, token, invited_by) VALUES ($1, lower($2), $3, $4, $5)
ON CONFLICT (tenant_id, email) DO UPDATE SET role = EXCLUDED.role, token = EXCLUDED.token, invited_by = EXCLUDED.invited_by, created_at = NOW()
RETURNING id, tenant_id, email, role, token, invited_by, created_at`, inv.TenantID, inv.Email, inv.Role, inv.Token, inv.InvitedBy)
	var out EmailInvitation
	err := row.Scan(&out.ID, &out.TenantID, &out.Email, &out.Role, &out.Token, &out.InvitedBy, &out.CreatedAt)
	return out, err
}

func (s store) EmailInvitations(ctx context.Context, email string) ([]EmailInvitation, error) {
	rows, err := s.q.Query(ctx, `SELECT id, tenant_id, email, role, token, invited_by, created_at FROM tenant_invitations WHERE email = lower($1) ORDER BY id`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EmailInvitation
	for rows.Next() {
		var inv EmailInvitation
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy, &inv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s store) DeleteEmailInvitations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `DELETE FROM tenant_invitations WHERE id = ANY($1::bigint[])`, ids)
	return err
}

var (
	_ Repository       = (*PGRepository)(nil)
	_ PageTenantLookup = (*PGRepository)(nil)
)
