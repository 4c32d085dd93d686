package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// Gate guards routes by named permission.
type Gate interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// PermissionsHandler manages the permission catalogue endpoints.
type PermissionsHandler struct {
	logger   *slog.Logger
	registry *Registry
	syncer   *Syncer
	gate     Gate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, registry *Registry, syncer *Syncer, gate Gate) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, registry: registry, syncer: syncer, gate: gate}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(shared.PermPermissionsView))
		r.Get("/", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(shared.PermPermissionsEdit))
		r.Post("/", h.createPermission)
		r.Put("/{id}", h.updatePermission)
		r.Post("/sync", h.syncPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(shared.PermPermissionsDelete))
		r.Delete("/{id}", h.deletePermission)
		r.Post("/bulk-delete", h.bulkDelete)
	})
}

type permissionRequest struct {
	Name        string  `json:"name" validate:"omitempty,max=120,permission_name"`
	Guard       string  `json:"guard" validate:"omitempty,oneof=web api"`
	Module      *string `json:"module" validate:"omitempty,max=60"`
	Description string  `json:"description" validate:"max=255"`
}

func (p permissionRequest) input() PermissionInput {
	return PermissionInput{Name: p.Name, Guard: p.Guard, Module: p.Module, Description: p.Description}
}

type syncRequest struct {
	Names []string `json:"names"`
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("group") == "module" {
		groups, err := h.registry.GroupPermissionsByModule(r.Context())
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		if groups == nil {
			groups = []ModuleGroup{}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"groups": groups})
		return
	}
	perms, err := h.registry.ListPermissions(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	perm, err := h.registry.CreatePermission(r.Context(), req.input())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	perm, err := h.registry.UpdatePermission(r.Context(), id, req.input())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.registry.DeletePermission(r.Context(), id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// syncPermissions reconciles the posted names, or the built-in catalogue
// when the body carries none.
func (h *PermissionsHandler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
	}
	names := req.Names
	if len(names) == 0 {
		names = shared.CanonicalPermissions()
	}
	result, err := h.syncer.SyncCanonical(r.Context(), names)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *PermissionsHandler) bulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	result, err := h.syncer.BulkDeletePermissions(r.Context(), req.IDs)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
