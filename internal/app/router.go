package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/linkdeck/linkdeck/internal/auth"
	"github.com/linkdeck/linkdeck/internal/observability"
	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/rbac"
	"github.com/linkdeck/linkdeck/internal/roles"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/tenants"
	"github.com/linkdeck/linkdeck/internal/users"
	"github.com/linkdeck/linkdeck/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	AuthService        *auth.Service
	AuthHandler        *auth.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	UsersHandler       *users.Handler
	TenantsHandler     *tenants.Handler
	TenantResolver     *tenants.Resolver
	TenantGate         func(http.Handler) http.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
	// Health reports dependency readiness for /healthz.
	Health func(r *http.Request) error
}

// NewRouter constructs the chi.Router with LinkDeck defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	cfg := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}
	if params.AuthService != nil {
		cfg.Identity = auth.IdentityMiddleware(params.AuthService, params.Logger)
	}
	if params.TenantResolver != nil {
		cfg.Tenant = params.TenantResolver.Middleware
		cfg.TenantGate = params.TenantGate
	}
	for _, mw := range MiddlewareStack(cfg) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Health != nil {
			if err := params.Health(r); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.TenantsHandler != nil {
		r.Route("/tenants", params.TenantsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
