package roles

import "github.com/linkdeck/linkdeck/internal/rbac"

// RoleRequest is the payload for creating or updating a role.
type RoleRequest struct {
	Name          string  `json:"name" validate:"required,max=60"`
	Guard         string  `json:"guard" validate:"omitempty,oneof=web api"`
	Label         string  `json:"label" validate:"max=120"`
	Description   string  `json:"description" validate:"max=255"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,gt=0"`
}

func (r RoleRequest) input() rbac.RoleInput {
	return rbac.RoleInput{
		Name:          r.Name,
		Guard:         r.Guard,
		Label:         r.Label,
		Description:   r.Description,
		PermissionIDs: r.PermissionIDs,
	}
}

// SyncPermissionsRequest replaces a role's permission set.
type SyncPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,gt=0"`
}

// SyncPermissionsResponse reports the applied diff.
type SyncPermissionsResponse struct {
	RoleID int64     `json:"role_id"`
	Diff   rbac.Diff `json:"diff"`
}
