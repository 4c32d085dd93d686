package impersonation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkdeck/linkdeck/internal/shared"
	"github.com/linkdeck/linkdeck/internal/users"
)

type stubIdentities map[int64]users.User

func (s stubIdentities) Get(ctx context.Context, id int64) (users.User, error) {
	u, ok := s[id]
	if !ok {
		return users.User{}, fmt.Errorf("user: %w", shared.ErrNotFound)
	}
	return u, nil
}

type stubChecker struct {
	granted map[int64]bool
	err     error
}

func (s stubChecker) HasPermission(ctx context.Context, identity users.User, name string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return name == shared.PermUsersImpersonate && s.granted[identity.ID], nil
}

func setupService(checker stubChecker) (*Service, *shared.MemoryAuditRecorder) {
	identities := stubIdentities{
		1: {ID: 1, Email: "admin@example.com", IsActive: true},
		2: {ID: 2, Email: "creator@example.com", IsActive: true},
		3: {ID: 3, Email: "gone@example.com", IsActive: false},
		4: {ID: 4, Email: "root@example.com", IsActive: true, Roles: []string{users.SuperAdminRole}},
	}
	audit := &shared.MemoryAuditRecorder{}
	return NewService(identities, checker, audit, nil), audit
}

func TestServiceBeginAndEnd(t *testing.T) {
	svc, audit := setupService(stubChecker{granted: map[int64]bool{1: true}})
	store := &fakeStore{user: "1"}
	ctx := context.Background()

	target, err := svc.Begin(ctx, store, users.User{ID: 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), target.ID)
	assert.Equal(t, "2", store.user)
	assert.Equal(t, "1", store.impersonator)

	restored, ok := svc.End(ctx, store)
	require.True(t, ok)
	assert.Equal(t, int64(1), restored)
	assert.Equal(t, "1", store.user)
	assert.Empty(t, store.impersonator)

	require.Len(t, audit.Entries, 2)
	for _, entry := range audit.Entries {
		assert.Equal(t, int64(2), entry.ActorID)
		require.NotNil(t, entry.ImpersonatorID)
		assert.Equal(t, int64(1), *entry.ImpersonatorID)
	}
	assert.Equal(t, "impersonation.started", audit.Entries[0].Action)
	assert.Equal(t, "impersonation.ended", audit.Entries[1].Action)
}

func TestServiceBeginDenied(t *testing.T) {
	svc, audit := setupService(stubChecker{granted: map[int64]bool{}})
	store := &fakeStore{user: "1"}

	_, err := svc.Begin(context.Background(), store, users.User{ID: 1}, 2)
	require.ErrorIs(t, err, shared.ErrAuthorizationDenied)
	assert.Equal(t, "1", store.user)
	assert.Zero(t, store.regenerated)
	assert.Empty(t, audit.Entries)
}

func TestServiceBeginSelf(t *testing.T) {
	svc, _ := setupService(stubChecker{granted: map[int64]bool{1: true}})
	store := &fakeStore{user: "1"}

	_, err := svc.Begin(context.Background(), store, users.User{ID: 1}, 1)
	require.ErrorIs(t, err, shared.ErrAuthorizationDenied)
	assert.Equal(t, "1", store.user)
}

func TestServiceBeginNested(t *testing.T) {
	svc, _ := setupService(stubChecker{granted: map[int64]bool{1: true, 2: true}})
	store := &fakeStore{user: "2", impersonator: "1"}

	_, err := svc.Begin(context.Background(), store, users.User{ID: 2}, 3)
	require.ErrorIs(t, err, shared.ErrAuthorizationDenied)
	assert.Equal(t, "2", store.user)
	assert.Equal(t, "1", store.impersonator)
}

func TestServiceBeginTargetChecks(t *testing.T) {
	svc, _ := setupService(stubChecker{granted: map[int64]bool{1: true}})
	ctx := context.Background()

	_, err := svc.Begin(ctx, &fakeStore{user: "1"}, users.User{ID: 1}, 99)
	require.ErrorIs(t, err, shared.ErrNotFound)

	store := &fakeStore{user: "1"}
	_, err = svc.Begin(ctx, store, users.User{ID: 1}, 3)
	require.ErrorIs(t, err, shared.ErrAuthorizationDenied)
	assert.Equal(t, "1", store.user)
}

func TestServiceBeginSuperAdminTarget(t *testing.T) {
	svc, audit := setupService(stubChecker{granted: map[int64]bool{1: true, 5: true}})
	ctx := context.Background()

	store := &fakeStore{user: "1"}
	_, err := svc.Begin(ctx, store, users.User{ID: 1}, 4)
	require.ErrorIs(t, err, shared.ErrAuthorizationDenied)
	assert.Equal(t, "1", store.user)
	assert.Empty(t, store.impersonator)
	assert.Empty(t, audit.Entries)

	store = &fakeStore{user: "5"}
	target, err := svc.Begin(ctx, store, users.User{ID: 5, Type: users.TypeSuperAdmin}, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), target.ID)
	assert.Equal(t, "5", store.impersonator)
}

func TestServiceBeginCheckerFailure(t *testing.T) {
	boom := errors.New("redis down")
	svc, _ := setupService(stubChecker{err: boom})

	_, err := svc.Begin(context.Background(), &fakeStore{user: "1"}, users.User{ID: 1}, 2)
	require.ErrorIs(t, err, boom)
}

func TestServiceEndNoop(t *testing.T) {
	svc, audit := setupService(stubChecker{})
	store := &fakeStore{user: "5"}

	restored, ok := svc.End(context.Background(), store)
	assert.False(t, ok)
	assert.Zero(t, restored)
	assert.Equal(t, "5", store.user)
	assert.Zero(t, store.regenerated)
	assert.Empty(t, audit.Entries)
}

func TestServiceWithSession(t *testing.T) {
	svc, _ := setupService(stubChecker{granted: map[int64]bool{1: true}})
	sess := &shared.Session{ID: "s1"}
	sess.SetUser("1")

	_, err := svc.Begin(context.Background(), sess, users.User{ID: 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sess.UserID())
	assert.Equal(t, "1", sess.Impersonator())
	assert.NotEqual(t, "s1", sess.ID)
}
