package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/tenants"
	"github.com/linkdeck/linkdeck/internal/users"
)

// Middleware wires authorization checks into HTTP handlers. Every denial is
// a 403, including tenants that do not exist.
type Middleware struct {
	Guard  *Guard
	Logger *slog.Logger
}

type permissionCheck func(ctx context.Context, identity users.User, names ...string) (bool, error)

// RequireAny ensures the current identity has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.requirePermissions("rbac require any", perms, m.Guard.HasAny)
}

// RequireAll ensures the current identity has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.requirePermissions("rbac require all", perms, m.Guard.HasAll)
}

func (m Middleware) requirePermissions(op string, perms []string, check permissionCheck) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			identity, ok := users.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, m.Logger, shared.Denied("authentication required"))
				return
			}
			allowed, err := check(r.Context(), identity, normalized...)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Int64("user_id", identity.ID), slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed {
				httpx.RespondError(w, m.Logger, shared.Denied("missing permission"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant enforces tenant access for the tenant resolved on the
// request. Requests without a resolved tenant pass, unless the route binds
// one that failed to resolve.
func (m Middleware) RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := tenants.TenantFromContext(r.Context())
			if !ok {
				if chi.URLParam(r, tenants.TenantParam) != "" || chi.URLParam(r, tenants.PageParam) != "" {
					httpx.RespondError(w, m.Logger, shared.Denied("tenant access denied"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			var identity *users.User
			if u, ok := users.IdentityFromContext(r.Context()); ok {
				identity = &u
			}
			if m.denyTenant(w, r, identity, tenant) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenantForIdentity enforces tenant access on every request that
// carries both a resolved tenant and an identity. Anonymous requests pass.
func (m Middleware) RequireTenantForIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, ok := tenants.TenantFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			identity, ok := users.IdentityFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if m.denyTenant(w, r, &identity, tenant) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) denyTenant(w http.ResponseWriter, r *http.Request, identity *users.User, tenant tenants.Tenant) bool {
	err := m.Guard.RequireTenantAccess(r.Context(), identity, &tenant)
	if err == nil {
		return false
	}
	if !shared.IsExpected(err) && m.Logger != nil {
		m.Logger.Error("tenant access", slog.Int64("tenant_id", tenant.ID), slog.Any("error", err))
	}
	httpx.RespondError(w, m.Logger, err)
	return true
}
