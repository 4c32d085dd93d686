package impersonation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

// Identities looks identities up by id.
type Identities interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// PermissionChecker answers named permission checks.
type PermissionChecker interface {
	HasPermission(ctx context.Context, identity users.User, name string) (bool, error)
}

// Service drives impersonation transitions against a session.
type Service struct {
	identities Identities
	perms      PermissionChecker
	audit      shared.AuditRecorder
	logger     *slog.Logger
}

// NewService builds Service instance.
func NewService(identities Identities, perms PermissionChecker, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{identities: identities, perms: perms, audit: audit, logger: logger}
}

// Begin switches the session from actor to the identity targetID.
func (s *Service) Begin(ctx context.Context, store Store, actor users.User, targetID int64) (users.User, error) {
	allowed, err := s.perms.HasPermission(ctx, actor, shared.PermUsersImpersonate)
	if err != nil {
		return users.User{}, fmt.Errorf("impersonation permission: %w", err)
	}
	next, err := Begin(Load(store), actor.ID, targetID, allowed)
	if err != nil {
		return users.User{}, err
	}
	target, err := s.identities.Get(ctx, targetID)
	if err != nil {
		return users.User{}, fmt.Errorf("impersonation target: %w", err)
	}
	if !target.IsActive {
		return users.User{}, shared.Denied("target identity is inactive")
	}
	if target.IsSuperAdmin() && !actor.IsSuperAdmin() {
		return users.User{}, shared.Denied("only a super admin may impersonate a super admin")
	}
	Save(store, next)

	original := actor.ID
	if err := shared.Audit(ctx, s.audit, shared.AuditLog{
		ActorID:        target.ID,
		ImpersonatorID: &original,
		Action:         "impersonation.started",
		Entity:         "user",
		EntityID:       strconv.FormatInt(target.ID, 10),
	}); err != nil {
		s.logger.Warn("audit impersonation start", slog.Any("error", err))
	}
	s.logger.Info("impersonation started", slog.Int64("impersonator_id", original), slog.Int64("user_id", target.ID))
	return target, nil
}

// End restores the original identity. A session that is not impersonating
// is left untouched and ok is false.
func (s *Service) End(ctx context.Context, store Store) (restoredID int64, ok bool) {
	current := Load(store)
	restoredID, next, ok := End(current)
	if !ok {
		return 0, false
	}
	Save(store, next)

	if err := shared.Audit(ctx, s.audit, shared.AuditLog{
		ActorID:        current.ActiveID,
		ImpersonatorID: &restoredID,
		Action:         "impersonation.ended",
		Entity:         "user",
		EntityID:       strconv.FormatInt(current.ActiveID, 10),
	}); err != nil {
		s.logger.Warn("audit impersonation end", slog.Any("error", err))
	}
	s.logger.Info("impersonation ended", slog.Int64("impersonator_id", restoredID), slog.Int64("user_id", current.ActiveID))
	return restoredID, true
}
