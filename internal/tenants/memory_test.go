package tenants

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

type memberKey struct{ tenant, user int64 }

type memState struct {
	tenants     map[int64]Tenant
	members     map[memberKey]Membership
	globalRoles map[int64][]string
	invitations map[int64]EmailInvitation
	nextTenant  int64
	nextInv     int64
}

func (s *memState) clone() *memState {
	c := &memState{
		tenants:     maps.Clone(s.tenants),
		members:     maps.Clone(s.members),
		globalRoles: make(map[int64][]string, len(s.globalRoles)),
		invitations: maps.Clone(s.invitations),
		nextTenant:  s.nextTenant,
		nextInv:     s.nextInv,
	}
	for k, v := range s.globalRoles {
		c.globalRoles[k] = slices.Clone(v)
	}
	return c
}

type memoryRepository struct {
	mu     sync.Mutex
	state  *memState
	users  map[int64]bool
	writes int
	failOn string
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		state: &memState{
			tenants:     map[int64]Tenant{},
			members:     map[memberKey]Membership{},
			globalRoles: map[int64][]string{},
			invitations: map[int64]EmailInvitation{},
		},
		users: map[int64]bool{},
	}
}

func (m *memoryRepository) reader() memStore { return memStore{st: m.state, repo: m} }

func (m *memoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft := m.state.clone()
	writes := m.writes
	if err := fn(ctx, memStore{st: draft, repo: m}); err != nil {
		m.writes = writes
		return err
	}
	m.state = draft
	return nil
}

func (m *memoryRepository) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	return m.reader().GetTenant(ctx, id)
}
func (m *memoryRepository) FindByDomain(ctx context.Context, host string) (Tenant, error) {
	return m.reader().FindByDomain(ctx, host)
}
func (m *memoryRepository) GetMembership(ctx context.Context, tenantID, userID int64) (Membership, error) {
	return m.reader().GetMembership(ctx, tenantID, userID)
}
func (m *memoryRepository) ListTenants(ctx context.Context) ([]Tenant, error) {
	return m.reader().ListTenants(ctx)
}
func (m *memoryRepository) ListAccessible(ctx context.Context, userID int64) ([]Tenant, error) {
	return m.reader().ListAccessible(ctx, userID)
}
func (m *memoryRepository) ListMembers(ctx context.Context, tenantID int64) ([]Membership, error) {
	return m.reader().ListMembers(ctx, tenantID)
}

func (m *memoryRepository) seedTenant(ownerID int64, slug string, domain *string) Tenant {
	m.state.nextTenant++
	t := Tenant{ID: m.state.nextTenant, OwnerID: ownerID, Name: slug, Slug: slug, Domain: domain, IsActive: true}
	m.state.tenants[t.ID] = t
	m.users[ownerID] = true
	return t
}

func (m *memoryRepository) seedMember(tenantID, userID int64, role, status string) {
	m.users[userID] = true
	m.state.members[memberKey{tenantID, userID}] = Membership{TenantID: tenantID, UserID: userID, Role: role, Status: status}
}

type memStore struct {
	st   *memState
	repo *memoryRepository
}

func (s memStore) write(op string) error {
	if s.repo.failOn == op {
		return errors.New("injected failure: " + op)
	}
	s.repo.writes++
	return nil
}

func sortTenants(list []Tenant) []Tenant {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (s memStore) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	t, ok := s.st.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("tenant: %w", shared.ErrNotFound)
	}
	return t, nil
}

func (s memStore) FindByDomain(ctx context.Context, host string) (Tenant, error) {
	for _, t := range s.st.tenants {
		if t.Domain != nil && strings.EqualFold(*t.Domain, host) {
			return t, nil
		}
	}
	return Tenant{}, fmt.Errorf("tenant: %w", shared.ErrNotFound)
}

func (s memStore) GetMembership(ctx context.Context, tenantID, userID int64) (Membership, error) {
	m, ok := s.st.members[memberKey{tenantID, userID}]
	if !ok {
		return Membership{}, fmt.Errorf("membership: %w", shared.ErrNotFound)
	}
	return m, nil
}

func (s memStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	return sortTenants(slices.Collect(maps.Values(s.st.tenants))), nil
}

func (s memStore) ListAccessible(ctx context.Context, userID int64) ([]Tenant, error) {
	var out []Tenant
	for _, t := range s.st.tenants {
		m, ok := s.st.members[memberKey{t.ID, userID}]
		if t.OwnerID == userID || (ok && m.Active()) {
			out = append(out, t)
		}
	}
	return sortTenants(out), nil
}

func (s memStore) ListMembers(ctx context.Context, tenantID int64) ([]Membership, error) {
	var out []Membership
	for k, m := range s.st.members {
		if k.tenant == tenantID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s memStore) LockUser(ctx context.Context, userID int64) error {
	if !s.repo.users[userID] {
		return fmt.Errorf("user: %w", shared.ErrNotFound)
	}
	return nil
}

func (s memStore) CountOwned(ctx context.Context, ownerID int64) (int, error) {
	n := 0
	for _, t := range s.st.tenants {
		if t.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s memStore) InsertTenant(ctx context.Context, t Tenant) (Tenant, error) {
	for _, existing := range s.st.tenants {
		if existing.Slug == t.Slug {
			return Tenant{}, shared.NewValidationError("slug", "slug or domain already taken")
		}
	}
	if err := s.write("InsertTenant"); err != nil {
		return Tenant{}, err
	}
	s.st.nextTenant++
	t.ID = s.st.nextTenant
	t.IsActive = true
	s.st.tenants[t.ID] = t
	return t, nil
}

func (s memStore) UpsertMembership(ctx context.Context, m Membership) error {
	if err := s.write("UpsertMembership"); err != nil {
		return err
	}
	s.st.members[memberKey{m.TenantID, m.UserID}] = m
	return nil
}

func (s memStore) FindMembershipByToken(ctx context.Context, token string) (Membership, error) {
	for _, m := range s.st.members {
		if m.InvitationToken != nil && *m.InvitationToken == token {
			return m, nil
		}
	}
	return Membership{}, fmt.Errorf("invitation: %w", shared.ErrNotFound)
}

func (s memStore) ActivateMembership(ctx context.Context, tenantID, userID int64, at time.Time) error {
	if err := s.write("ActivateMembership"); err != nil {
		return err
	}
	key := memberKey{tenantID, userID}
	m := s.st.members[key]
	m.Status = StatusActive
	m.InvitationToken = nil
	m.InvitationAcceptedAt = &at
	s.st.members[key] = m
	return nil
}

func (s memStore) UpdateMembershipRole(ctx context.Context, tenantID, userID int64, role string) error {
	key := memberKey{tenantID, userID}
	m, ok := s.st.members[key]
	if !ok {
		return fmt.Errorf("membership: %w", shared.ErrNotFound)
	}
	if err := s.write("UpdateMembershipRole"); err != nil {
		return err
	}
	m.Role = role
	s.st.members[key] = m
	return nil
}

func (s memStore) DeleteMembership(ctx context.Context, tenantID, userID int64) (int64, error) {
	key := memberKey{tenantID, userID}
	if _, ok := s.st.members[key]; !ok {
		return 0, nil
	}
	if err := s.write("DeleteMembership"); err != nil {
		return 0, err
	}
	delete(s.st.members, key)
	return 1, nil
}

func (s memStore) GrantGlobalRole(ctx context.Context, userID int64, role string) (bool, error) {
	if err := s.write("GrantGlobalRole"); err != nil {
		return false, err
	}
	if slices.Contains(s.st.globalRoles[userID], role) {
		return false, nil
	}
	s.st.globalRoles[userID] = append(s.st.globalRoles[userID], role)
	return true, nil
}

func (s memStore) ReplaceGlobalRoles(ctx context.Context, userID int64, role string) ([]string, error) {
	if err := s.write("ReplaceGlobalRoles"); err != nil {
		return nil, err
	}
	var stripped []string
	for _, r := range s.st.globalRoles[userID] {
		if r != role {
			stripped = append(stripped, r)
		}
	}
	s.st.globalRoles[userID] = []string{role}
	return stripped, nil
}

func (s memStore) InsertEmailInvitation(ctx context.Context, inv EmailInvitation) (EmailInvitation, error) {
	if err := s.write("InsertEmailInvitation"); err != nil {
		return EmailInvitation{}, err
	}
	s.st.nextInv++
	inv.ID = s.st.nextInv
	s.st.invitations[inv.ID] = inv
	return inv, nil
}

func (s memStore) EmailInvitations(ctx context.Context, email string) ([]EmailInvitation, error) {
	var out []EmailInvitation
	for _, inv := range s.st.invitations {
		if strings.EqualFold(inv.Email, email) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memStore) DeleteEmailInvitations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.write("DeleteEmailInvitations"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.st.invitations, id)
	}
	return nil
}

type stubIdentities map[string]users.User

func (s stubIdentities) GetByEmail(ctx context.Context, email string) (users.User, error) {
	u, ok := s[strings.ToLower(email)]
	if !ok {
		return users.User{}, fmt.Errorf("user: %w", shared.ErrNotFound)
	}
	return u, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

type recordingMailer struct{ sent []InvitationMail }

func (r *recordingMailer) EnqueueInvitation(ctx context.Context, mail InvitationMail) error {
	r.sent = append(r.sent, mail)
	return nil
}

var _ Repository = (*memoryRepository)(nil)
