package rbac

import (
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Guards scope roles and permissions to an authentication context.
const (
	GuardWeb = "web"
	GuardAPI = "api"
)

// Protected and well-known role names.
const (
	RoleSuperAdmin  = "super_admin"
	RoleAdmin       = "admin"
	RoleUser        = "user"
	RoleTenantOwner = "tenant_owner"
)

var protectedRoles = []string{RoleSuperAdmin, RoleAdmin, RoleUser, RoleTenantOwner}

// IsProtected reports whether a role name is immutable and undeletable.
// Every mutating entry point must consult this predicate.
func IsProtected(name string) bool {
	return slices.Contains(protectedRoles, name)
}

// ValidGuard reports whether guard is a known authentication context.
func ValidGuard(guard string) bool {
	return guard == GuardWeb || guard == GuardAPI
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Guard       string       `json:"guard"`
	Label       string       `json:"label,omitempty"`
	Description string       `json:"description,omitempty"`
	UsersCount  int          `json:"users_count"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Protected reports whether this role is protected.
func (r Role) Protected() bool {
	return IsProtected(r.Name)
}

// Permission represents an atomic capability named "subject.action".
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Guard       string    `json:"guard"`
	Module      *string   `json:"module,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModuleGroup is a module label with its permissions.
type ModuleGroup struct {
	Module      string       `json:"module"`
	Permissions []Permission `json:"permissions"`
}

// PermissionUsage counts references that block deletion.
type PermissionUsage struct {
	Roles        int
	DirectGrants int
}

// InUse reports whether any reference exists.
func (u PermissionUsage) InUse() bool {
	return u.Roles > 0 || u.DirectGrants > 0
}

// ModuleOf returns the classification of p: its module attribute when set,
// otherwise the first dot segment of its name.
func ModuleOf(p Permission) string {
	if p.Module != nil {
		if m := strings.TrimSpace(*p.Module); m != "" {
			return m
		}
	}
	subject, _, _ := strings.Cut(p.Name, ".")
	return subject
}

// GroupByModule groups permissions by ModuleOf. Groups are sorted by module
// and permissions by name.
func GroupByModule(perms []Permission) []ModuleGroup {
	index := make(map[string]int)
	var groups []ModuleGroup
	for _, p := range perms {
		module := ModuleOf(p)
		i, ok := index[module]
		if !ok {
			i = len(groups)
			index[module] = i
			groups = append(groups, ModuleGroup{Module: module})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Module < groups[j].Module })
	for _, g := range groups {
		sort.Slice(g.Permissions, func(i, j int) bool { return g.Permissions[i].Name < g.Permissions[j].Name })
	}
	return groups
}

// DescribePermission derives "Action Subject" from "subject.action":
// underscores become spaces and words are title-cased.
func DescribePermission(name string) string {
	parts := strings.Split(name, ".")
	subject := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	phrase := strings.TrimSpace(strings.ReplaceAll(action+" "+subject, "_", " "))
	return cases.Title(language.English).String(phrase)
}

// Diff lists permission ids added and removed by a full replacement.
type Diff struct {
	Added   []int64 `json:"added"`
	Removed []int64 `json:"removed"`
}

// Empty reports whether the replacement changes nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffPermissions computes added = target - current and removed = current - target.
func DiffPermissions(current, target []int64) Diff {
	cur := toSet(current)
	tgt := toSet(target)
	d := Diff{Added: []int64{}, Removed: []int64{}}
	for id := range tgt {
		if _, ok := cur[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}
	for id := range cur {
		if _, ok := tgt[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	return d
}

// UniqueIDs returns ids deduplicated and sorted, dropping non-positive values.
func UniqueIDs(ids []int64) []int64 {
	set := toSet(ids)
	out := make([]int64, 0, len(set))
	for id := range set {
		if id > 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
