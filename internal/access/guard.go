// Package access makes tenant-access and named-permission decisions.
package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/linkdeck/linkdeck/internal/observability"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/tenants"
	"github.com/linkdeck/linkdeck/internal/users"
)

// PermissionSource returns the permission names an identity holds through
// its roles. *rbac.Registry satisfies it.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Guard is the authorization decision procedure.
type Guard struct {
	perms   PermissionSource
	members tenants.MembershipReader
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewGuard constructs a Guard. metrics may be nil.
func NewGuard(perms PermissionSource, members tenants.MembershipReader, metrics *observability.Metrics, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{perms: perms, members: members, metrics: metrics, logger: logger}
}

// CanAccessTenant reports whether identity may act on tenant: super admins
// always, then the owner, then any active member. Pending memberships do not
// grant access.
func (g *Guard) CanAccessTenant(ctx context.Context, identity users.User, tenant tenants.Tenant) (bool, error) {
	if identity.IsSuperAdmin() {
		return g.observe("tenant", true, nil)
	}
	if identity.ID != 0 && identity.ID == tenant.OwnerID {
		return g.observe("tenant", true, nil)
	}
	m, err := g.members.GetMembership(ctx, tenant.ID, identity.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return g.observe("tenant", false, nil)
	}
	if err != nil {
		return g.observe("tenant", false, err)
	}
	return g.observe("tenant", m.Active(), nil)
}

// RequireTenantAccess returns ErrAuthorizationDenied when identity may not act
// on tenant. A nil tenant passes; a nil identity with a tenant is denied.
func (g *Guard) RequireTenantAccess(ctx context.Context, identity *users.User, tenant *tenants.Tenant) error {
	if tenant == nil {
		return nil
	}
	if identity == nil {
		g.metrics.AuthzDecision("tenant", observability.OutcomeDenied)
		return shared.Denied("authentication required")
	}
	ok, err := g.CanAccessTenant(ctx, *identity, *tenant)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Denied("tenant access denied")
	}
	return nil
}

// HasPermission reports whether name is among the identity's role permissions.
func (g *Guard) HasPermission(ctx context.Context, identity users.User, name string) (bool, error) {
	return g.HasAny(ctx, identity, name)
}

// HasAny reports whether the identity holds at least one of names.
func (g *Guard) HasAny(ctx context.Context, identity users.User, names ...string) (bool, error) {
	required := normalizePermissions(names)
	if len(required) == 0 {
		return true, nil
	}
	granted, err := g.perms.EffectivePermissions(ctx, identity.ID)
	if err != nil {
		return g.observe("permission", false, err)
	}
	return g.observe("permission", hasAnyPermission(granted, required), nil)
}

// HasAll reports whether the identity holds every one of names.
func (g *Guard) HasAll(ctx context.Context, identity users.User, names ...string) (bool, error) {
	required := normalizePermissions(names)
	if len(required) == 0 {
		return true, nil
	}
	granted, err := g.perms.EffectivePermissions(ctx, identity.ID)
	if err != nil {
		return g.observe("permission", false, err)
	}
	return g.observe("permission", hasAllPermissions(granted, required), nil)
}

func (g *Guard) observe(check string, allowed bool, err error) (bool, error) {
	switch {
	case err != nil:
		g.metrics.AuthzDecision(check, observability.OutcomeError)
		return false, err
	case allowed:
		g.metrics.AuthzDecision(check, observability.OutcomeAllowed)
	default:
		g.metrics.AuthzDecision(check, observability.OutcomeDenied)
	}
	return allowed, nil
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func permissionSet(granted []string) map[string]struct{} {
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	return set
}

func hasAnyPermission(granted []string, required []string) bool {
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	set := permissionSet(granted)
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
