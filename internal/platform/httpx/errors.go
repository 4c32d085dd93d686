// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/linkdeck/linkdeck/internal/shared"
)

// RespondError maps the domain error taxonomy to RFC7807 responses.
// Authorization denials are always 403, whether or not the target exists.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *shared.ValidationError
	var qerr *shared.QuotaExceededError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Fields: verr.Fields,
		})
	case errors.Is(err, shared.ErrValidationFailed):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrAuthorizationDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.As(err, &qerr):
		JSON(w, http.StatusConflict, ProblemDetail{
			Title:  "Quota Exceeded",
			Status: http.StatusConflict,
			Detail: err.Error(),
			Limit:  &qerr.Limit,
		})
	case errors.Is(err, shared.ErrQuotaExceeded):
		Problem(w, http.StatusConflict, "Quota Exceeded", err.Error())
	case errors.Is(err, shared.ErrProtectedResource):
		Problem(w, http.StatusConflict, "Protected Resource", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		if logger != nil {
			logger.Error("unhandled error", slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
