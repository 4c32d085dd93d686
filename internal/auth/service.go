package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

// Identities loads identities by id.
type Identities interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// InvitationResolver turns pending email invitations into memberships.
type InvitationResolver interface {
	ResolveInvitations(ctx context.Context, identity users.User) (int, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo        Repository
	identities  Identities
	invitations InvitationResolver
	logger      *slog.Logger
}

// NewService constructs a new Service. invitations may be nil.
func NewService(repo Repository, identities Identities, invitations InvitationResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, identities: identities, invitations: invitations, logger: logger}
}

// Authenticate validates email/password credentials and returns the identity.
func (s *Service) Authenticate(ctx context.Context, email, password string) (users.User, error) {
	creds, err := s.repo.FindCredentials(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return users.User{}, shared.ErrInvalidCredentials
		}
		return users.User{}, err
	}
	if !creds.IsActive {
		return users.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return users.User{}, shared.ErrInvalidCredentials
	}
	identity, err := s.identities.Get(ctx, creds.UserID)
	if err != nil {
		return users.User{}, err
	}
	if s.invitations != nil {
		n, err := s.invitations.ResolveInvitations(ctx, identity)
		if err != nil {
			s.logger.Warn("resolve invitations", slog.Int64("user_id", identity.ID), slog.Any("error", err))
		} else if n > 0 {
			s.logger.Info("invitations resolved", slog.Int64("user_id", identity.ID), slog.Int("count", n))
		}
	}
	return identity, nil
}

// Identity loads the identity a session points at. Inactive identities are
// reported as ErrNotFound.
func (s *Service) Identity(ctx context.Context, id int64) (users.User, error) {
	identity, err := s.identities.Get(ctx, id)
	if err != nil {
		return users.User{}, err
	}
	if !identity.IsActive {
		return users.User{}, shared.ErrNotFound
	}
	return identity, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, SessionRecord{ID: id, UserID: userID, ExpiresAt: expiresAt, IP: ip, UserAgent: ua})
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
