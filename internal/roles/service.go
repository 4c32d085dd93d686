package roles

import (
	"context"

	"github.com/linkdeck/linkdeck/internal/rbac"
)

// Catalogue is the role store the handler drives. *rbac.Registry satisfies it.
type Catalogue interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, in rbac.RoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, id int64, in rbac.RoleInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
}

// Assigner replaces role permission sets. *rbac.Syncer satisfies it.
type Assigner interface {
	SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.Diff, error)
}

// Service handles role management on top of the catalogue.
type Service struct {
	catalogue Catalogue
	assigner  Assigner
}

// NewService builds Service instance.
func NewService(catalogue Catalogue, assigner Assigner) *Service {
	return &Service{catalogue: catalogue, assigner: assigner}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	roles, err := s.catalogue.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	return roles, nil
}

// GetRole returns a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	return s.catalogue.GetRole(ctx, id)
}

// CreateRole inserts a role.
func (s *Service) CreateRole(ctx context.Context, req RoleRequest) (rbac.Role, error) {
	return s.catalogue.CreateRole(ctx, req.input())
}

// UpdateRole edits a role. A non-nil permission list is applied as a full
// replacement after the attribute update.
func (s *Service) UpdateRole(ctx context.Context, id int64, req RoleRequest) (rbac.Role, error) {
	role, err := s.catalogue.UpdateRole(ctx, id, req.input())
	if err != nil {
		return rbac.Role{}, err
	}
	if req.PermissionIDs != nil && role.Name != rbac.RoleSuperAdmin {
		if _, err := s.assigner.SyncRolePermissions(ctx, id, req.PermissionIDs); err != nil {
			return rbac.Role{}, err
		}
	}
	return role, nil
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.catalogue.DeleteRole(ctx, id)
}

// SyncPermissions replaces the role's permission set.
func (s *Service) SyncPermissions(ctx context.Context, id int64, req SyncPermissionsRequest) (rbac.Diff, error) {
	return s.assigner.SyncRolePermissions(ctx, id, req.PermissionIDs)
}
