package tenants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linkdeck/linkdeck/internal/rbac"
	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

// retainedRoles are platform roles a tenant role change may not strip.
var retainedRoles = []string{rbac.RoleSuperAdmin, rbac.RoleAdmin, rbac.RoleTenantOwner}

// IdentityLookup finds identities by email.
type IdentityLookup interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
}

// Invalidator drops cached permission decisions.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// InvitationMail is the payload queued for invitation delivery.
type InvitationMail struct {
	Kind       string `json:"kind"`
	TenantID   int64  `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Token      string `json:"token"`
}

// Mailer queues invitation mail.
type Mailer interface {
	EnqueueInvitation(ctx context.Context, mail InvitationMail) error
}

// Service implements the tenant membership lifecycle.
type Service struct {
	repo       Repository
	identities IdentityLookup
	cache      Invalidator
	mailer     Mailer
	audit      shared.AuditRecorder
	quotas     PlanQuotas
	logger     *slog.Logger
	now        func() time.Time
}

// Options configures Service collaborators. Nil fields are optional.
type Options struct {
	Cache  Invalidator
	Mailer Mailer
	Audit  shared.AuditRecorder
	Quotas PlanQuotas
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, identities IdentityLookup, opts Options) *Service {
	s := &Service{
		repo:       repo,
		identities: identities,
		cache:      opts.Cache,
		mailer:     opts.Mailer,
		audit:      opts.Audit,
		quotas:     opts.Quotas,
		logger:     opts.Logger,
		now:        opts.Clock,
	}
	if len(s.quotas) == 0 {
		s.quotas = DefaultPlanQuotas()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Get returns the tenant with id.
func (s *Service) Get(ctx context.Context, id int64) (Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

// Members lists the tenant's memberships.
func (s *Service) Members(ctx context.Context, tenantID int64) ([]Membership, error) {
	return s.repo.ListMembers(ctx, tenantID)
}

// CreateTenant creates a tenant owned by owner within the owner's plan quota.
func (s *Service) CreateTenant(ctx context.Context, owner users.User, in CreateTenantInput) (Tenant, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Domain != nil {
		host := NormalizeHost(*in.Domain)
		if host == "" {
			in.Domain = nil
		} else {
			in.Domain = &host
		}
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Tenant{}, err
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(in.Name)
	}
	if slug == "" {
		return Tenant{}, shared.NewValidationError("slug", "must contain letters or digits")
	}
	limit, plan := s.quotas.Limit(owner.Plan)
	now := s.now()

	var created Tenant
	var granted bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, owner.ID); err != nil {
			return err
		}
		if limit != Unlimited {
			owned, err := tx.CountOwned(ctx, owner.ID)
			if err != nil {
				return err
			}
			if owned >= limit {
				return &shared.QuotaExceededError{Plan: plan, Current: owned, Limit: limit}
			}
		}
		t, err := tx.InsertTenant(ctx, Tenant{OwnerID: owner.ID, Name: in.Name, Slug: slug, Domain: in.Domain})
		if err != nil {
			return err
		}
		if err := tx.UpsertMembership(ctx, Membership{
			TenantID:             t.ID,
			UserID:               owner.ID,
			Role:                 RoleOwner,
			Status:               StatusActive,
			InvitationAcceptedAt: &now,
		}); err != nil {
			return fmt.Errorf("attach owner: %w", err)
		}
		granted, err = tx.GrantGlobalRole(ctx, owner.ID, RoleOwner)
		if err != nil {
			return fmt.Errorf("grant owner role: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return Tenant{}, err
	}
	if granted {
		if err := s.invalidate(ctx); err != nil {
			return Tenant{}, err
		}
	}
	s.record(ctx, "tenant.created", created.ID, map[string]any{"slug": created.Slug, "owner_id": owner.ID})
	return created, nil
}

// InviteUser attaches a pending membership for a registered email, or stores
// an email invitation resolved at registration.
func (s *Service) InviteUser(ctx context.Context, tenant Tenant, email, role string, invitedBy int64) (Invitation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := shared.Validator().Var(email, "required,email"); err != nil {
		return Invitation{}, shared.NewValidationError("email", "must be a valid email")
	}
	if role == RoleOwner {
		return Invitation{}, shared.NewValidationError("role", "owner role cannot be invited")
	}
	if !ValidMemberRole(role) {
		return Invitation{}, shared.NewValidationError("role", "must be one of: "+strings.Join(memberRoles, " "))
	}

	inv := Invitation{TenantID: tenant.ID, Email: email, Role: role, Token: uuid.NewString()}
	identity, err := s.identities.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		inv.Kind = InvitationEmail
	case err != nil:
		return Invitation{}, err
	default:
		inv.Kind = InvitationMembership
		inv.UserID = identity.ID
	}

	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if inv.Kind == InvitationEmail {
			_, err := tx.InsertEmailInvitation(ctx, EmailInvitation{TenantID: tenant.ID, Email: email, Role: role, Token: inv.Token, InvitedBy: invitedBy})
			return err
		}
		existing, err := tx.GetMembership(ctx, tenant.ID, identity.ID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err == nil && existing.Active() {
			return shared.NewValidationError("email", "already a member of this tenant")
		}
		return tx.UpsertMembership(ctx, Membership{
			TenantID:         tenant.ID,
			UserID:           identity.ID,
			Role:             role,
			Status:           StatusPending,
			InvitationToken:  &inv.Token,
			InvitationSentAt: &now,
		})
	})
	if err != nil {
		return Invitation{}, err
	}
	s.record(ctx, "tenant.member_invited", tenant.ID, map[string]any{"email": email, "role": role, "kind": inv.Kind})
	if s.mailer != nil {
		mail := InvitationMail{Kind: inv.Kind, TenantID: tenant.ID, TenantName: tenant.Name, Email: email, Role: role, Token: inv.Token}
		if err := s.mailer.EnqueueInvitation(ctx, mail); err != nil {
			s.logger.Warn("enqueue invitation mail", slog.Int64("tenant_id", tenant.ID), slog.Any("error", err))
		}
	}
	return inv, nil
}

// ResolveInvitations turns email invitations for identity into pending
// memberships. It returns the number of memberships created.
func (s *Service) ResolveInvitations(ctx context.Context, identity users.User) (int, error) {
	var resolved int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invs, err := tx.EmailInvitations(ctx, identity.Email)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(invs))
		for _, inv := range invs {
			ids = append(ids, inv.ID)
			if _, err := tx.GetMembership(ctx, inv.TenantID, identity.ID); err == nil {
				continue
			} else if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			token := inv.Token
			sentAt := inv.CreatedAt
			if err := tx.UpsertMembership(ctx, Membership{
				TenantID:         inv.TenantID,
				UserID:           identity.ID,
				Role:             inv.Role,
				Status:           StatusPending,
				InvitationToken:  &token,
				InvitationSentAt: &sentAt,
			}); err != nil {
				return err
			}
			resolved++
		}
		return tx.DeleteEmailInvitations(ctx, ids)
	})
	if err != nil {
		return 0, err
	}
	return resolved, nil
}

// AcceptInvitation activates the pending membership matching token and grants
// the invited role as a global role.
func (s *Service) AcceptInvitation(ctx context.Context, identity users.User, token string) (Membership, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Membership{}, fmt.Errorf("invitation: %w", shared.ErrNotFound)
	}
	now := s.now()
	var accepted Membership
	var granted bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.FindMembershipByToken(ctx, token)
		if err != nil {
			return err
		}
		if m.UserID != identity.ID {
			return shared.Denied("invitation belongs to another identity")
		}
		if m.Status != StatusPending {
			return fmt.Errorf("invitation: %w", shared.ErrNotFound)
		}
		if err := tx.ActivateMembership(ctx, m.TenantID, m.UserID, now); err != nil {
			return err
		}
		granted, err = tx.GrantGlobalRole(ctx, identity.ID, m.Role)
		if err != nil {
			return err
		}
		m.Status = StatusActive
		m.InvitationToken = nil
		m.InvitationAcceptedAt = &now
		accepted = m
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	if granted {
		if err := s.invalidate(ctx); err != nil {
			return Membership{}, err
		}
	}
	s.record(ctx, "tenant.invitation_accepted", accepted.TenantID, map[string]any{"user_id": identity.ID, "role": accepted.Role})
	return accepted, nil
}

// RemoveUser detaches userID from tenant. The owner cannot be removed.
func (s *Service) RemoveUser(ctx context.Context, tenant Tenant, userID int64) error {
	if userID == tenant.OwnerID {
		return shared.Protected("the tenant owner cannot be removed")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.DeleteMembership(ctx, tenant.ID, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("membership: %w", shared.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, "tenant.member_removed", tenant.ID, map[string]any{"user_id": userID})
	return nil
}

// UpdateUserRole sets the membership role and replaces the identity's global
// roles with exactly [role]. Stripped roles are recorded in the audit trail.
// Members holding a retained platform role are refused without changes.
func (s *Service) UpdateUserRole(ctx context.Context, tenant Tenant, userID int64, role string) error {
	if userID == tenant.OwnerID {
		return shared.Protected("the tenant owner's role cannot be changed")
	}
	if !ValidMemberRole(role) {
		return shared.NewValidationError("role", "must be one of: "+strings.Join(memberRoles, " "))
	}
	var stripped []string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateMembershipRole(ctx, tenant.ID, userID, role); err != nil {
			return err
		}
		var err error
		stripped, err = tx.ReplaceGlobalRoles(ctx, userID, role)
		if err != nil {
			return err
		}
		for _, name := range stripped {
			if slices.Contains(retainedRoles, name) {
				return shared.Protected(fmt.Sprintf("member holds platform role %s", name))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.invalidate(ctx); err != nil {
		return err
	}
	if stripped == nil {
		stripped = []string{}
	}
	s.record(ctx, "tenant.member_role_updated", tenant.ID, map[string]any{"user_id": userID, "role": role, "stripped_roles": stripped})
	return nil
}

// ListAccessible returns the tenants identity may act on.
func (s *Service) ListAccessible(ctx context.Context, identity users.User) ([]Tenant, error) {
	var (
		list []Tenant
		err  error
	)
	if identity.IsSuperAdmin() {
		list, err = s.repo.ListTenants(ctx)
	} else {
		list, err = s.repo.ListAccessible(ctx, identity.ID)
	}
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Tenant{}
	}
	return list, nil
}

func (s *Service) invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

func (s *Service) record(ctx context.Context, action string, tenantID int64, meta map[string]any) {
	err := shared.Audit(ctx, s.audit, shared.AuditLog{
		Action:   action,
		Entity:   "tenant",
		EntityID: strconv.FormatInt(tenantID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit tenant action", slog.String("action", action), slog.Any("error", err))
	}
}
