package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linkdeck/linkdeck/internal/impersonation"
	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	impersonation  *impersonation.Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, impersonator *impersonation.Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		impersonation:  impersonator,
		sessionManager: sessions,
		csrfManager:    csrf,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/impersonate/stop", h.stopImpersonation)
	r.Post("/impersonate/{userID}", h.startImpersonation)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type identityResponse struct {
	User           users.User `json:"user"`
	ImpersonatorID *int64     `json:"impersonator_id,omitempty"`
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "session unavailable")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "session unavailable")
		return
	}
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := shared.ValidateStruct(&req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	impersonation.Save(sess, impersonation.Normal(user.ID))

	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.logger.Info("login", slog.Int64("user_id", user.ID))
	httpx.JSON(w, http.StatusOK, identityResponse{User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startImpersonation(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.IdentityFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	if !ok || sess == nil {
		httpx.RespondError(w, h.logger, shared.Denied("authentication required"))
		return
	}
	targetID, err := httpx.IDParam(r, "userID")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	target, err := h.impersonation.Begin(r.Context(), sess, actor, targetID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	original := actor.ID
	h.refreshSession(r, sess, target.ID)
	httpx.JSON(w, http.StatusOK, identityResponse{User: target, ImpersonatorID: &original})
}

func (h *Handler) stopImpersonation(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	restoredID, ok := h.impersonation.End(r.Context(), sess)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.refreshSession(r, sess, restoredID)
	user, err := h.service.Identity(r.Context(), restoredID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, identityResponse{User: user})
}

func (h *Handler) refreshSession(r *http.Request, sess *shared.Session, userID int64) {
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, userID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
