package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/linkdeck/linkdeck/internal/impersonation"
	"github.com/linkdeck/linkdeck/internal/platform/httpx"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

// IdentityMiddleware loads the active identity of the session into the
// request context. While impersonating, the active identity is the target
// and the original identity is attached for audit attribution.
func IdentityMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil {
				next.ServeHTTP(w, r)
				return
			}
			state := impersonation.Load(sess)
			if state.ActiveID == 0 {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := service.Identity(r.Context(), state.ActiveID)
			if err != nil {
				if !errors.Is(err, shared.ErrNotFound) {
					httpx.RespondError(w, logger, err)
					return
				}
				if logger != nil {
					logger.Info("session identity gone", slog.Int64("user_id", state.ActiveID))
				}
				impersonation.Save(sess, impersonation.State{})
				next.ServeHTTP(w, r)
				return
			}
			ctx := users.ContextWithIdentity(r.Context(), identity)
			ctx = shared.ContextWithActor(ctx, identity.ID)
			if state.Impersonating() {
				ctx = shared.ContextWithImpersonator(ctx, state.OriginalID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
