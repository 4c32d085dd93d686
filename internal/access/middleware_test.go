package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/linkdeck/linkdeck/internal/tenants"
	"github.com/linkdeck/linkdeck/internal/users"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, r *http.Request) int {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec.Code
}

func withIdentity(r *http.Request, u users.User) *http.Request {
	return r.WithContext(users.ContextWithIdentity(r.Context(), u))
}

func TestRequireAnyMiddleware(t *testing.T) {
	guard, perms, _ := setupGuard()
	perms.byUser[1] = []string{"roles.view"}
	mw := Middleware{Guard: guard}
	h := mw.RequireAny("roles.view", "roles.edit")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	assert.Equal(t, http.StatusForbidden, serve(h, req))
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(req, users.User{ID: 1})))
	assert.Equal(t, http.StatusForbidden, serve(h, withIdentity(req, users.User{ID: 2})))
}

func TestRequireAllMiddleware(t *testing.T) {
	guard, perms, _ := setupGuard()
	perms.byUser[1] = []string{"roles.view"}
	mw := Middleware{Guard: guard}
	h := mw.RequireAll("roles.view", "roles.edit")(okHandler())

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/roles", nil), users.User{ID: 1})
	assert.Equal(t, http.StatusForbidden, serve(h, req))

	perms.byUser[1] = append(perms.byUser[1], "roles.edit")
	assert.Equal(t, http.StatusOK, serve(h, req))
}

func TestRequirePermissionErrorIs500(t *testing.T) {
	guard, perms, _ := setupGuard()
	perms.err = errors.New("db down")
	h := Middleware{Guard: guard}.RequireAny("roles.view")(okHandler())

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/roles", nil), users.User{ID: 1})
	assert.Equal(t, http.StatusInternalServerError, serve(h, req))
}

func TestRequireTenantMiddleware(t *testing.T) {
	guard, _, members := setupGuard()
	members.byPair[memberKey{10, 2}] = tenants.Membership{Status: tenants.StatusActive}
	h := Middleware{Guard: guard}.RequireTenant()(okHandler())
	tenant := tenants.Tenant{ID: 10, OwnerID: 1}

	base := httptest.NewRequest(http.MethodGet, "/tenants/10", nil)
	assert.Equal(t, http.StatusOK, serve(h, base), "no tenant resolved passes")

	scoped := base.WithContext(tenants.ContextWithTenant(base.Context(), tenant))
	assert.Equal(t, http.StatusForbidden, serve(h, scoped), "anonymous")
	assert.Equal(t, http.StatusForbidden, serve(h, withIdentity(scoped, users.User{ID: 3})))
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(scoped, users.User{ID: 2})))
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(scoped, users.User{ID: 1})))
}

func TestRequireTenantUnresolvedRouteTenantIs403(t *testing.T) {
	guard, _, _ := setupGuard()
	h := Middleware{Guard: guard}.RequireTenant()(okHandler())

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(tenants.TenantParam, "404")
	req := httptest.NewRequest(http.MethodGet, "/tenants/404", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	assert.Equal(t, http.StatusForbidden, serve(h, withIdentity(req, users.User{ID: 1})))
}

func TestRequireTenantForIdentity(t *testing.T) {
	guard, _, members := setupGuard()
	members.byPair[memberKey{10, 2}] = tenants.Membership{Status: tenants.StatusActive}
	h := Middleware{Guard: guard}.RequireTenantForIdentity()(okHandler())
	tenant := tenants.Tenant{ID: 10, OwnerID: 9}

	base := httptest.NewRequest(http.MethodGet, "/jobs/health?tenant_id=10", nil)
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(base, users.User{ID: 5})), "no tenant resolved passes")

	scoped := base.WithContext(tenants.ContextWithTenant(base.Context(), tenant))
	assert.Equal(t, http.StatusOK, serve(h, scoped), "anonymous passes")
	assert.Equal(t, http.StatusForbidden, serve(h, withIdentity(scoped, users.User{ID: 5})))
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(scoped, users.User{ID: 2})))
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(scoped, users.User{ID: 9})))
	assert.Equal(t, http.StatusOK, serve(h, withIdentity(scoped, users.User{ID: 7, Type: users.TypeSuperAdmin})))
}

func TestRequireTenantUnresolvedRoutePageIs403(t *testing.T) {
	guard, _, _ := setupGuard()
	h := Middleware{Guard: guard}.RequireTenant()(okHandler())

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(tenants.PageParam, "555")
	req := httptest.NewRequest(http.MethodGet, "/pages/555", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	assert.Equal(t, http.StatusForbidden, serve(h, withIdentity(req, users.User{ID: 1})))
}
