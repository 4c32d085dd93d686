package users

import (
	"slices"
	"time"
)

// Type is the coarse identity classification used for the super admin bypass.
type Type string

const (
	TypeSuperAdmin Type = "super_admin"
	TypeAdmin      Type = "admin"
	TypeUser       Type = "user"
)

// SuperAdminRole is the protected role name that also grants the bypass.
const SuperAdminRole = "super_admin"

// User represents an identity of the admin panel.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Plan      string    `json:"plan"`
	IsActive  bool      `json:"is_active"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSuperAdmin reports the absolute bypass: super_admin type or role.
func (u User) IsSuperAdmin() bool {
	return u.Type == TypeSuperAdmin || u.HasRole(SuperAdminRole)
}

// HasRole reports whether the identity holds the named global role.
func (u User) HasRole(name string) bool {
	return slices.Contains(u.Roles, name)
}

// ListFilters narrows user listings.
type ListFilters struct {
	Search string
	Page   int
	Limit  int
}
