package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates a referenced role, permission, tenant or identity is absent.
	ErrNotFound = errors.New("not found")
	// ErrAuthorizationDenied indicates a tenant-access or permission check failed.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrValidationFailed indicates malformed input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrQuotaExceeded indicates tenant creation over the plan limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrProtectedResource indicates a mutation of a protected or in-use record.
	ErrProtectedResource = errors.New("protected resource")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// ValidationError carries field level detail and matches ErrValidationFailed.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidationFailed.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

// Is reports ErrValidationFailed equivalence for errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// QuotaExceededError describes a tenant quota breach.
type QuotaExceededError struct {
	Plan    string
	Current int
	Limit   int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: plan %s allows %d tenants, %d owned", e.Plan, e.Limit, e.Current)
}

// Is reports ErrQuotaExceeded equivalence for errors.Is.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Denied wraps ErrAuthorizationDenied with a reason.
func Denied(reason string) error {
	return fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
}

// Protected wraps ErrProtectedResource with a reason.
func Protected(reason string) error {
	return fmt.Errorf("%w: %s", ErrProtectedResource, reason)
}

// IsExpected reports whether err belongs to the recoverable taxonomy.
func IsExpected(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAuthorizationDenied) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrProtectedResource)
}

// UserSafeMessage returns a message suitable for API consumers.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsExpected(err) {
		return err.Error()
	}
	return "internal error"
}
