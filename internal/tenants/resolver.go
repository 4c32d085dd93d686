package tenants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// TenantParam and PageParam name the chi route parameters that bind a
// tenant directly or through a page.
const (
	TenantParam = "tenant"
	PageParam   = "page"
	QueryParam  = "tenant_id"
)

// PageTenantLookup maps a route-bound page to its tenant id.
type PageTenantLookup interface {
	TenantIDForPage(ctx context.Context, pageID int64) (int64, error)
}

// Resolver determines which tenant, if any, a request concerns.
type Resolver struct {
	tenants Lookup
	pages   PageTenantLookup
	logger  *slog.Logger
}

// NewResolver constructs a Resolver. pages may be nil.
func NewResolver(tenants Lookup, pages PageTenantLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tenants: tenants, pages: pages, logger: logger}
}

// Resolve returns the tenant bound by the route (directly or through a
// page), then by host, then by the tenant_id parameter. No match returns nil
// without error. A route binding is authoritative: when it names no tenant,
// nothing resolves.
func (r *Resolver) Resolve(req *http.Request) (*Tenant, error) {
	ctx := req.Context()
	if raw := chi.URLParam(req, TenantParam); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return nil, nil
		}
		return r.byID(ctx, id)
	}
	if raw := chi.URLParam(req, PageParam); raw != "" {
		pageID, ok := parseID(raw)
		if !ok || r.pages == nil {
			return nil, nil
		}
		tenantID, err := r.pages.TenantIDForPage(ctx, pageID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return r.byID(ctx, tenantID)
	}
	if host := NormalizeHost(req.Host); host != "" {
		t, err := r.tenants.FindByDomain(ctx, host)
		switch {
		case errors.Is(err, shared.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			return &t, nil
		}
	}
	if id, ok := parseID(tenantIDParam(req)); ok {
		return r.byID(ctx, id)
	}
	return nil, nil
}

func routeBound(req *http.Request) bool {
	return chi.URLParam(req, TenantParam) != "" || chi.URLParam(req, PageParam) != ""
}

func (r *Resolver) byID(ctx context.Context, id int64) (*Tenant, error) {
	t, err := r.tenants.GetTenant(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Middleware attaches the resolved tenant to the request context. A tenant
// attached by an earlier pass is kept when this pass finds nothing, unless
// the route binds a tenant or page of its own.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		t, err := r.Resolve(req)
		if err != nil {
			r.logger.Error("resolve tenant", slog.Any("error", err))
			httpx.RespondError(w, r.logger, err)
			return
		}
		switch {
		case t != nil:
			req = req.WithContext(ContextWithTenant(req.Context(), *t))
		case routeBound(req):
			req = req.WithContext(context.WithValue(req.Context(), tenantContextKey{}, nil))
		}
		next.ServeHTTP(w, req)
	})
}

func tenantIDParam(req *http.Request) string {
	if v := req.URL.Query().Get(QueryParam); v != "" {
		return v
	}
	if req.Method == http.MethodGet || req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return req.PostFormValue(QueryParam)
	case "application/json":
		return jsonTenantID(req)
	}
	return ""
}

// maxBodyPeek bounds how much of a JSON body is buffered to find tenant_id.
const maxBodyPeek = 1 << 20

// jsonTenantID reads tenant_id from a JSON body and restores the body for
// the handler. Bodies larger than maxBodyPeek are not inspected.
func jsonTenantID(req *http.Request) string {
	body := req.Body
	peeked, err := io.ReadAll(io.LimitReader(body, maxBodyPeek+1))
	req.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(peeked), body), Closer: body}
	if err != nil || len(peeked) > maxBodyPeek {
		return ""
	}
	var payload struct {
		TenantID json.Number `json:"tenant_id"`
	}
	if err := json.Unmarshal(peeked, &payload); err != nil {
		return ""
	}
	return payload.TenantID.String()
}

type readCloser struct {
	io.Reader
	io.Closer
}

func parseID(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type tenantContextKey struct{}

// ContextWithTenant stores the resolved tenant.
func ContextWithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, t)
}

// TenantFromContext returns the resolved tenant, if any.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantContextKey{}).(Tenant)
	return t, ok
}
