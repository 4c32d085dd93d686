package tenants

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/linkdeck/linkdeck/internal/rbac"
)

// Membership role labels.
const (
	RoleOwner  = rbac.RoleTenantOwner
	RoleAdmin  = "tenant_admin"
	RoleEditor = "tenant_editor"
	RoleViewer = "tenant_viewer"
)

// Membership statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
)

var memberRoles = []string{RoleAdmin, RoleEditor, RoleViewer}

// ValidMemberRole reports whether role can be assigned through invitation or
// role update. The owner role is only attached on tenant creation.
func ValidMemberRole(role string) bool {
	return slices.Contains(memberRoles, role)
}

// Tenant is an isolated customer workspace.
type Tenant struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Domain    *string   `json:"domain,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership links an identity to a tenant.
type Membership struct {
	TenantID             int64      `json:"tenant_id"`
	UserID               int64      `json:"user_id"`
	Role                 string     `json:"role"`
	Status               string     `json:"status"`
	InvitationToken      *string    `json:"-"`
	InvitationSentAt     *time.Time `json:"invitation_sent_at,omitempty"`
	InvitationAcceptedAt *time.Time `json:"invitation_accepted_at,omitempty"`
}

// Active reports whether the membership grants access.
func (m Membership) Active() bool { return m.Status == StatusActive }

// EmailInvitation waits for an identity registered under Email.
type EmailInvitation struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"-"`
	InvitedBy int64     `json:"invited_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Invitation kinds returned by InviteUser.
const (
	InvitationMembership = "membership"
	InvitationEmail      = "email"
)

// Invitation reports what InviteUser persisted.
type Invitation struct {
	Kind     string `json:"kind"`
	TenantID int64  `json:"tenant_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	UserID   int64  `json:"user_id,omitempty"`
	Token    string `json:"-"`
}

// CreateTenantInput carries attributes for CreateTenant.
type CreateTenantInput struct {
	Name   string  `json:"name" validate:"required,max=120"`
	Slug   string  `json:"slug" validate:"omitempty,max=63"`
	Domain *string `json:"domain" validate:"omitempty,hostname_rfc1123,max=253"`
}

// Unlimited marks a plan without a tenant quota.
const Unlimited = -1

// PlanFree is used for identities with no or unknown plan.
const PlanFree = "free"

// PlanQuotas maps plans to the number of tenants an identity may own.
type PlanQuotas map[string]int

// DefaultPlanQuotas returns the stock plan limits.
func DefaultPlanQuotas() PlanQuotas {
	return PlanQuotas{"free": 1, "starter": 3, "pro": 10, "enterprise": Unlimited}
}

// Limit returns the quota for plan and the plan it was resolved under.
// Unknown plans fall back to free.
func (q PlanQuotas) Limit(plan string) (int, string) {
	plan = strings.ToLower(strings.TrimSpace(plan))
	if limit, ok := q[plan]; ok {
		return limit, plan
	}
	if limit, ok := q[PlanFree]; ok {
		return limit, PlanFree
	}
	return DefaultPlanQuotas()[PlanFree], PlanFree
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses non-alphanumerics into dashes.
func Slugify(s string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 63 {
		slug = strings.TrimRight(slug[:63], "-")
	}
	return slug
}

// NormalizeHost lowercases host and strips any port.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && strings.Count(host, ":") == 1 {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}
