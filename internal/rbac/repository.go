package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkdeck/linkdeck/internal/platform/db"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// Reader exposes read operations available inside and outside transactions.
type Reader interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	FindRole(ctx context.Context, name, guard string) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Reader
	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) (int64, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	InsertPermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	PermissionUsage(ctx context.Context, ids []int64) (map[int64]PermissionUsage, error)
	DeletePermissions(ctx context.Context, ids []int64) (int64, error)
}

// Repository is the persistence port used by Registry and Syncer.
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

type store struct {
	q db.Querier
}

const roleColumns = `r.id, r.name, r.guard, r.label, r.description, r.created_at, r.updated_at,
	(SELECT count(*) FROM user_roles ur WHERE ur.role_id = r.id)`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.Label, &role.Description, &role.CreatedAt, &role.UpdatedAt, &role.UsersCount)
	return role, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Guard, &p.Module, &p.Description, &p.CreatedAt)
	return p, err
}

func notFound(kind string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", kind, shared.ErrNotFound)
	}
	return err
}

func (s store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.q.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name, r.guard`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s store) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(s.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if err != nil {
		return Role{}, notFound("role", err)
	}
	return role, nil
}

func (s store) FindRole(ctx context.Context, name, guard string) (Role, error) {
	role, err := scanRole(s.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1 AND r.guard = $2`, name, guard))
	if err != nil {
		return Role{}, notFound("role", err)
	}
	return role, nil
}

func (s store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, guard, module, description, created_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s store) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(s.q.QueryRow(ctx, `SELECT id, name, guard, module, description, created_at FROM permissions WHERE id = $1`, id))
	if err != nil {
		return Permission{}, notFound("permission", err)
	}
	return p, nil
}

func (s store) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT permission_id FROM role_permission WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s store) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN role_permission rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s store) InsertRole(ctx context.Context, role Role) (Role, error) {
	row := s.q.QueryRow(ctx, `INSERT INTO roles (name, guard, label, description) VALUES ($1, $2, $3, $4)
RETURNING id, name, guard, label, description, created_at, updated_at, 0`, role.Name, role.Guard, role.Label, role.Description)
	created, err := scanRole(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, shared.NewValidationError("name", "role already exists for guard")
		}
		return Role{}, err
	}
	return created, nil
}

func (s store) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := s.q.QueryRow(ctx, `UPDATE roles SET name = $2, guard = $3, label = $4, description = $5, updated_at = NOW()
WHERE id = $1
RETURNING id, name, guard, label, description, created_at, updated_at,
	(SELECT count(*) FROM user_roles ur WHERE ur.role_id = roles.id)`, role.ID, role.Name, role.Guard, role.Label, role.Description)
	updated, err := scanRole(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, shared.NewValidationError("name", "role already exists for guard")
		}
		return Role{}, notFound("role", err)
	}
	return updated, nil
}

func (s store) DeleteRole(ctx context.Context, id int64) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s store) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM role_permission WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, `INSERT INTO role_permission (role_id, permission_id) SELECT $1, unnest($2::bigint[])`, roleID, permissionIDs)
	return err
}

func (s store) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	row := s.q.QueryRow(ctx, `INSERT INTO permissions (name, guard, module, description) VALUES ($1, $2, $3, $4)
RETURNING id, name, guard, module, description, created_at`, perm.Name, perm.Guard, perm.Module, perm.Description)
	created, err := scanPermission(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Permission{}, shared.NewValidationError("name", "permission already exists")
		}
		return Permission{}, err
	}
	return created, nil
}

func (s store) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := s.q.QueryRow(ctx, `UPDATE permissions SET guard = $2, module = $3, description = $4 WHERE id = $1
RETURNING id, name, guard, module, description, created_at`, perm.ID, perm.Guard, perm.Module, perm.Description)
	updated, err := scanPermission(row)
	if err != nil {
		return Permission{}, notFound("permission", err)
	}
	return updated, nil
}

// PermissionUsage ignores super_admin attachments: that role mirrors the
// catalogue and must not pin permissions.
func (s store) PermissionUsage(ctx context.Context, ids []int64) (map[int64]PermissionUsage, error) {
	rows, err := s.q.Query(ctx, `SELECT p.id,
	(SELECT count(*) FROM role_permission rp JOIN roles r ON r.id = rp.role_id WHERE rp.permission_id = p.id AND r.name <> $2),
	(SELECT count(*) FROM user_permissions up WHERE up.permission_id = p.id)
FROM permissions p WHERE p.id = ANY($1::bigint[])`, ids, RoleSuperAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	usage := make(map[int64]PermissionUsage, len(ids))
	for rows.Next() {
		var id int64
		var u PermissionUsage
		if err := rows.Scan(&id, &u.Roles, &u.DirectGrants); err != nil {
			return nil, err
		}
		usage[id] = u
	}
	return usage, rows.Err()
}

func (s store) DeletePermissions(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM permissions WHERE id = ANY($1::bigint[])`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
