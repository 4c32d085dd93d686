package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// PermissionGate guards routes by named permission.
type PermissionGate interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    PermissionGate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate PermissionGate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(shared.PermUsersView))
		r.Get("/", h.listUsers)
	})
}

type listResponse struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := ListFilters{Search: q.Get("search"), Page: page, Limit: limit}
	list, total, err := h.service.ListUsers(r.Context(), filters)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []User{}
	}
	if page < 1 {
		page = 1
	}
	httpx.JSON(w, http.StatusOK, listResponse{Users: list, Total: total, Page: page})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, ok := IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, h.logger, shared.Denied("no identity"))
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}
