package tenants

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

// Gate guards routes by named permission and tenant access.
type Gate interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
	RequireTenant() func(http.Handler) http.Handler
}

// Handler manages tenant endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
	gate     Gate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, gate Gate) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver, gate: gate}
}

// MountRoutes registers tenant routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listTenants)
	r.Post("/invitations/accept", h.acceptInvitation)
	r.With(h.gate.RequireAny(shared.PermTenantsCreate)).Post("/", h.createTenant)

	r.Route("/{tenant}", func(r chi.Router) {
		r.Use(h.resolver.Middleware)
		r.Use(h.gate.RequireTenant())
		r.Get("/", h.showTenant)
		r.Group(func(r chi.Router) {
			r.Use(h.gate.RequireAny(shared.PermTenantsManage))
			r.Post("/invitations", h.inviteUser)
			r.Put("/members/{userID}", h.updateMemberRole)
			r.Delete("/members/{userID}", h.removeMember)
		})
	})
}

type inviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

type acceptRequest struct {
	Token string `json:"token" validate:"required"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required"`
}

type tenantResponse struct {
	Tenant  Tenant       `json:"tenant"`
	Members []Membership `json:"members"`
}

func (h *Handler) listTenants(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListAccessible(r.Context(), identity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tenants": list})
}

func (h *Handler) createTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var in CreateTenantInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	t, err := h.service.CreateTenant(r.Context(), identity, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) showTenant(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}
	members, err := h.service.Members(r.Context(), t.ID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if members == nil {
		members = []Membership{}
	}
	httpx.JSON(w, http.StatusOK, tenantResponse{Tenant: t, Members: members})
}

func (h *Handler) inviteUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.service.InviteUser(r.Context(), t, req.Email, req.Role, identity.ID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.AcceptInvitation(r.Context(), identity, req.Token)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.UpdateUserRole(r.Context(), t, userID, req.Role); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}
	userID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.RemoveUser(r.Context(), t, userID); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (users.User, bool) {
	u, ok := users.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, shared.Denied("authentication required"))
		return users.User{}, false
	}
	return u, true
}

func (h *Handler) tenant(w http.ResponseWriter, r *http.Request) (Tenant, bool) {
	t, ok := TenantFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, shared.Denied("tenant access denied"))
		return Tenant{}, false
	}
	return t, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, h.logger, err)
		return false
	}
	if err := shared.ValidateStruct(target); err != nil {
		httpx.RespondError(w, h.logger, err)
		return false
	}
	return true
}
