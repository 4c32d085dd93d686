package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/linkdeck/linkdeck/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = shared.ErrNotFound

// Registry owns the role/permission catalogue and its invariants.
type Registry struct {
	repo   Repository
	cache  PermissionCache
	logger *slog.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(repo Repository, cache PermissionCache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{repo: repo, cache: cache, logger: logger}
}

// RoleInput carries editable role attributes.
type RoleInput struct {
	Name          string
	Guard         string
	Label         string
	Description   string
	PermissionIDs []int64
}

// PermissionInput carries editable permission attributes.
type PermissionInput struct {
	Name        string
	Guard       string
	Module      *string
	Description string
}

// ListRoles returns all roles with derived user counts.
func (r *Registry) ListRoles(ctx context.Context) ([]Role, error) {
	return r.repo.ListRoles(ctx)
}

// GetRole fetches a role with its permissions.
func (r *Registry) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := r.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	ids, err := r.repo.RolePermissionIDs(ctx, id)
	if err != nil {
		return Role{}, err
	}
	all, err := r.repo.ListPermissions(ctx)
	if err != nil {
		return Role{}, err
	}
	held := toSet(ids)
	role.Permissions = []Permission{}
	for _, p := range all {
		if _, ok := held[p.ID]; ok {
			role.Permissions = append(role.Permissions, p)
		}
	}
	return role, nil
}

// CreateRole inserts a role and assigns its initial permissions. Protected
// names are reserved for seeding.
func (r *Registry) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	in = normalizeRoleInput(in)
	if err := validateRoleInput(in); err != nil {
		return Role{}, err
	}
	if IsProtected(in.Name) {
		return Role{}, shared.Protected(fmt.Sprintf("role name %s is reserved", in.Name))
	}
	var created Role
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.InsertRole(ctx, Role{Name: in.Name, Guard: in.Guard, Label: in.Label, Description: in.Description})
		if err != nil {
			return err
		}
		if ids := UniqueIDs(in.PermissionIDs); len(ids) > 0 {
			if err := requirePermissions(ctx, tx, ids); err != nil {
				return err
			}
			if err := tx.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
				return err
			}
		}
		created = role
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	if err := r.Invalidate(ctx); err != nil {
		return Role{}, err
	}
	return created, nil
}

// UpdateRole edits a role. Protected roles keep their name and guard;
// label and description stay editable. No role may be renamed into a
// protected name.
func (r *Registry) UpdateRole(ctx context.Context, id int64, in RoleInput) (Role, error) {
	in = normalizeRoleInput(in)
	if err := validateRoleInput(in); err != nil {
		return Role{}, err
	}
	var updated Role
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if IsProtected(current.Name) && (in.Name != current.Name || in.Guard != current.Guard) {
			return shared.Protected(fmt.Sprintf("role %s cannot be renamed or moved to another guard", current.Name))
		}
		if IsProtected(in.Name) && in.Name != current.Name {
			return shared.Protected(fmt.Sprintf("role name %s is reserved", in.Name))
		}
		current.Name = in.Name
		current.Guard = in.Guard
		current.Label = in.Label
		current.Description = in.Description
		updated, err = tx.UpdateRole(ctx, current)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role. Protected roles and roles held by any identity
// are rejected without mutating rows.
func (r *Registry) DeleteRole(ctx context.Context, id int64) error {
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if IsProtected(role.Name) {
			return shared.Protected(fmt.Sprintf("role %s cannot be deleted", role.Name))
		}
		if role.UsersCount > 0 {
			return shared.Protected(fmt.Sprintf("role %s is assigned to %d users", role.Name, role.UsersCount))
		}
		n, err := tx.DeleteRole(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("role: %w", shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.Invalidate(ctx)
}

// ListPermissions returns the catalogue ordered by name.
func (r *Registry) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.repo.ListPermissions(ctx)
}

// GroupPermissionsByModule returns the catalogue grouped by module.
func (r *Registry) GroupPermissionsByModule(ctx context.Context) ([]ModuleGroup, error) {
	perms, err := r.repo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByModule(perms), nil
}

// CreatePermission inserts a permission and re-equalizes super_admin.
func (r *Registry) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	in = normalizePermissionInput(in)
	if err := validatePermissionInput(in); err != nil {
		return Permission{}, err
	}
	if in.Description == "" {
		in.Description = DescribePermission(in.Name)
	}
	var created Permission
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.InsertPermission(ctx, Permission{Name: in.Name, Guard: in.Guard, Module: in.Module, Description: in.Description})
		if err != nil {
			return err
		}
		created = p
		return equalizeSuperAdmin(ctx, tx)
	})
	if err != nil {
		return Permission{}, err
	}
	if err := r.Invalidate(ctx); err != nil {
		return Permission{}, err
	}
	return created, nil
}

// UpdatePermission edits guard, module and description. Names are immutable
// because call sites reference them.
func (r *Registry) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (Permission, error) {
	in = normalizePermissionInput(in)
	if !ValidGuard(in.Guard) {
		return Permission{}, shared.NewValidationError("guard", "must be web or api")
	}
	var updated Permission
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != "" && in.Name != current.Name {
			return shared.NewValidationError("name", "permission names are immutable")
		}
		current.Guard = in.Guard
		current.Module = in.Module
		if in.Description != "" {
			current.Description = in.Description
		}
		updated, err = tx.UpdatePermission(ctx, current)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	if err := r.Invalidate(ctx); err != nil {
		return Permission{}, err
	}
	return updated, nil
}

// DeletePermission removes a single permission not referenced by any role or grant.
func (r *Registry) DeletePermission(ctx context.Context, id int64) error {
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		usage, err := tx.PermissionUsage(ctx, []int64{id})
		if err != nil {
			return err
		}
		if u := usage[id]; u.InUse() {
			return shared.Protected(fmt.Sprintf("permission %s is attached to %d roles and %d users", p.Name, u.Roles, u.DirectGrants))
		}
		_, err = tx.DeletePermissions(ctx, []int64{id})
		return err
	})
	if err != nil {
		return err
	}
	return r.Invalidate(ctx)
}

// EffectivePermissions returns the permission names granted to userID by roles.
func (r *Registry) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return r.cache.Effective(ctx, userID, func(ctx context.Context) ([]string, error) {
		return r.repo.UserPermissionNames(ctx, userID)
	})
}

// Invalidate drops cached decisions. Writers call it before returning.
func (r *Registry) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Invalidate(ctx); err != nil {
		r.logger.Error("rbac invalidate", slog.Any("error", err))
		return err
	}
	return nil
}

// equalizeSuperAdmin sets super_admin's permissions to the full catalogue.
func equalizeSuperAdmin(ctx context.Context, tx TxRepository) error {
	roles, err := tx.ListRoles(ctx)
	if err != nil {
		return err
	}
	perms, err := tx.ListPermissions(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	for _, role := range roles {
		if role.Name != RoleSuperAdmin {
			continue
		}
		if err := tx.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
			return fmt.Errorf("rbac: equalize super_admin: %w", err)
		}
	}
	return nil
}

func requirePermissions(ctx context.Context, tx TxRepository, ids []int64) error {
	perms, err := tx.ListPermissions(ctx)
	if err != nil {
		return err
	}
	known := make(map[int64]struct{}, len(perms))
	for _, p := range perms {
		known[p.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("permission %d: %w", id, shared.ErrNotFound)
		}
	}
	return nil
}

func normalizeRoleInput(in RoleInput) RoleInput {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	in.Guard = strings.TrimSpace(in.Guard)
	if in.Guard == "" {
		in.Guard = GuardWeb
	}
	in.Label = strings.TrimSpace(in.Label)
	in.Description = strings.TrimSpace(in.Description)
	return in
}

func validateRoleInput(in RoleInput) error {
	fields := map[string]string{}
	if in.Name == "" {
		fields["name"] = "is required"
	}
	if !ValidGuard(in.Guard) {
		fields["guard"] = "must be web or api"
	}
	if len(fields) > 0 {
		return &shared.ValidationError{Fields: fields}
	}
	return nil
}

func normalizePermissionInput(in PermissionInput) PermissionInput {
	in.Name = strings.ToLower(strings.TrimSpace(in.Name))
	in.Guard = strings.TrimSpace(in.Guard)
	if in.Guard == "" {
		in.Guard = GuardWeb
	}
	if in.Module != nil {
		m := strings.TrimSpace(*in.Module)
		if m == "" {
			in.Module = nil
		} else {
			in.Module = &m
		}
	}
	in.Description = strings.TrimSpace(in.Description)
	return in
}

func validatePermissionInput(in PermissionInput) error {
	fields := map[string]string{}
	if !shared.ValidPermissionName(in.Name) {
		fields["name"] = "must look like subject.action"
	}
	if !ValidGuard(in.Guard) {
		fields["guard"] = "must be web or api"
	}
	if len(fields) > 0 {
		return &shared.ValidationError{Fields: fields}
	}
	return nil
}
