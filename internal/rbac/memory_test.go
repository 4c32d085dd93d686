package rbac

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/linkdeck/linkdeck/internal/shared"
)

type memState struct {
	roles     map[int64]Role
	perms     map[int64]Permission
	rolePerms map[int64]map[int64]struct{}
	userRoles map[int64][]int64
	userPerms map[int64][]int64
	nextRole  int64
	nextPerm  int64
}

func (s *memState) clone() *memState {
	c := &memState{
		roles:     maps.Clone(s.roles),
		perms:     maps.Clone(s.perms),
		rolePerms: make(map[int64]map[int64]struct{}, len(s.rolePerms)),
		userRoles: make(map[int64][]int64, len(s.userRoles)),
		userPerms: make(map[int64][]int64, len(s.userPerms)),
		nextRole:  s.nextRole,
		nextPerm:  s.nextPerm,
	}
	for k, v := range s.rolePerms {
		c.rolePerms[k] = maps.Clone(v)
	}
	for k, v := range s.userRoles {
		c.userRoles[k] = slices.Clone(v)
	}
	for k, v := range s.userPerms {
		c.userPerms[k] = slices.Clone(v)
	}
	return c
}

// memoryRepository implements Repository in memory; WithTx commits only
// when the callback succeeds.
type memoryRepository struct {
	mu     sync.Mutex
	state  *memState
	writes int
	failOn string
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{state: &memState{
		roles:     map[int64]Role{},
		perms:     map[int64]Permission{},
		rolePerms: map[int64]map[int64]struct{}{},
		userRoles: map[int64][]int64{},
		userPerms: map[int64][]int64{},
	}}
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

func (m *memoryRepository) ListRoles(ctx context.Context) ([]Role, error) {
	return m.reader().ListRoles(ctx)
}
func (m *memoryRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return m.reader().GetRole(ctx, id)
}
func (m *memoryRepository) FindRole(ctx context.Context, name, guard string) (Role, error) {
	return m.reader().FindRole(ctx, name, guard)
}
func (m *memoryRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.reader().ListPermissions(ctx)
}
func (m *memoryRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return m.reader().GetPermission(ctx, id)
}
func (m *memoryRepository) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	return m.reader().RolePermissionIDs(ctx, roleID)
}
func (m *memoryRepository) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	return m.reader().UserPermissionNames(ctx, userID)
}

// seed helpers write directly to committed state.

func (m *memoryRepository) seedRole(name string) Role {
	m.state.nextRole++
	r := Role{ID: m.state.nextRole, Name: name, Guard: GuardWeb}
	m.state.roles[r.ID] = r
	return r
}

func (m *memoryRepository) seedPermission(name string) Permission {
	m.state.nextPerm++
	p := Permission{ID: m.state.nextPerm, Name: name, Guard: GuardWeb, Description: DescribePermission(name)}
	m.state.perms[p.ID] = p
	return p
}

func (m *memoryRepository) attach(roleID int64, permIDs ...int64) {
	set, ok := m.state.rolePerms[roleID]
	if !ok {
		set = map[int64]struct{}{}
		m.state.rolePerms[roleID] = set
	}
	for _, id := range permIDs {
		set[id] = struct{}{}
	}
}

func (m *memoryRepository) assignRole(userID, roleID int64) {
	m.state.userRoles[userID] = append(m.state.userRoles[userID], roleID)
}

func (m *memoryRepository) grantDirect(userID, permID int64) {
	m.state.userPerms[permID] = append(m.state.userPerms[permID], userID)
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

func (s memStore) usersCount(roleID int64) int {
	n := 0
	for _, ids := range s.st.userRoles {
		if slices.Contains(ids, roleID) {
			n++
		}
	}
	return n
}

func (s memStore) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(s.st.roles))
	for _, r := range s.st.roles {
		r.UsersCount = s.usersCount(r.ID)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memStore) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := s.st.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("role: %w", shared.ErrNotFound)
	}
	r.UsersCount = s.usersCount(id)
	return r, nil
}

func (s memStore) FindRole(ctx context.Context, name, guard string) (Role, error) {
	for _, r := range s.st.roles {
		if r.Name == name && r.Guard == guard {
			r.UsersCount = s.usersCount(r.ID)
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("role: %w", shared.ErrNotFound)
}

func (s memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(s.st.perms))
	for _, p := range s.st.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, ok := s.st.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("permission: %w", shared.ErrNotFound)
	}
	return p, nil
}

func (s memStore) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	ids := slices.Collect(maps.Keys(s.st.rolePerms[roleID]))
	slices.Sort(ids)
	return ids, nil
}

func (s memStore) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	set := map[string]struct{}{}
	for _, roleID := range s.st.userRoles[userID] {
		for permID := range s.st.rolePerms[roleID] {
			set[s.st.perms[permID].Name] = struct{}{}
		}
	}
	names := slices.Collect(maps.Keys(set))
	slices.Sort(names)
	return names, nil
}

func (s memStore) InsertRole(ctx context.Context, role Role) (Role, error) {
	if _, err := s.FindRole(ctx, role.Name, role.Guard); err == nil {
		return Role{}, shared.NewValidationError("name", "role already exists for guard")
	}
	if err := s.write("InsertRole"); err != nil {
		return Role{}, err
	}
	s.st.nextRole++
	role.ID = s.st.nextRole
	s.st.roles[role.ID] = role
	return role, nil
}

func (s memStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	if _, ok := s.st.roles[role.ID]; !ok {
		return Role{}, fmt.Errorf("role: %w", shared.ErrNotFound)
	}
	if err := s.write("UpdateRole"); err != nil {
		return Role{}, err
	}
	role.Permissions = nil
	s.st.roles[role.ID] = role
	return role, nil
}

func (s memStore) DeleteRole(ctx context.Context, id int64) (int64, error) {
	if _, ok := s.st.roles[id]; !ok {
		return 0, nil
	}
	if err := s.write("DeleteRole"); err != nil {
		return 0, err
	}
	delete(s.st.roles, id)
	delete(s.st.rolePerms, id)
	return 1, nil
}

func (s memStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.write("ReplaceRolePermissions"); err != nil {
		return err
	}
	set := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	s.st.rolePerms[roleID] = set
	return nil
}

func (s memStore) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	for _, p := range s.st.perms {
		if p.Name == perm.Name {
			return Permission{}, shared.NewValidationError("name", "permission already exists")
		}
	}
	if err := s.write("InsertPermission"); err != nil {
		return Permission{}, err
	}
	s.st.nextPerm++
	perm.ID = s.st.nextPerm
	s.st.perms[perm.ID] = perm
	return perm, nil
}

func (s memStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	current, ok := s.st.perms[perm.ID]
	if !ok {
		return Permission{}, fmt.Errorf("permission: %w", shared.ErrNotFound)
	}
	if err := s.write("UpdatePermission"); err != nil {
		return Permission{}, err
	}
	perm.Name = current.Name
	s.st.perms[perm.ID] = perm
	return perm, nil
}

func (s memStore) PermissionUsage(ctx context.Context, ids []int64) (map[int64]PermissionUsage, error) {
	usage := make(map[int64]PermissionUsage, len(ids))
	for _, id := range ids {
		if _, ok := s.st.perms[id]; !ok {
			continue
		}
		var u PermissionUsage
		for roleID, set := range s.st.rolePerms {
			if s.st.roles[roleID].Name == RoleSuperAdmin {
				continue
			}
			if _, ok := set[id]; ok {
				u.Roles++
			}
		}
		u.DirectGrants = len(s.st.userPerms[id])
		usage[id] = u
	}
	return usage, nil
}

func (s memStore) DeletePermissions(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.write("DeletePermissions"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if _, ok := s.st.perms[id]; !ok {
			continue
		}
		delete(s.st.perms, id)
		for _, set := range s.st.rolePerms {
			delete(set, id)
		}
		n++
	}
	return n, nil
}

// countingCache records invalidations on top of a process-local VersionedCache.
type countingCache struct {
	*VersionedCache
	invalidations int
}

func newCountingCache() *countingCache {
	c, err := NewVersionedCache(nil, 16, nil)
	if err != nil {
		panic(err)
	}
	return &countingCache{VersionedCache: c}
}

func (c *countingCache) Invalidate(ctx context.Context) error {
	c.invalidations++
	return c.VersionedCache.Invalidate(ctx)
}

var _ Repository = (*memoryRepository)(nil)
