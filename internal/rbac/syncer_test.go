package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkdeck/linkdeck/internal/shared"
)

func TestSyncCanonicalCreatesWithDerivedDescription(t *testing.T) {
	repo := newMemoryRepository()
	syncer := NewSyncer(repo, newCountingCache(), nil, nil)

	result, err := syncer.SyncCanonical(context.Background(), []string{"billing.manage"})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 1}, result)

	perms, _ := repo.ListPermissions(context.Background())
	require.Len(t, perms, 1)
	assert.Equal(t, "billing.manage", perms[0].Name)
	assert.Equal(t, "Manage Billing", perms[0].Description)
	assert.Equal(t, GuardWeb, perms[0].Guard)
}

func TestSyncCanonicalIdempotent(t *testing.T) {
	repo := newMemoryRepository()
	repo.seedRole(RoleSuperAdmin)
	cache := newCountingCache()
	syncer := NewSyncer(repo, cache, nil, nil)
	names := shared.CanonicalPermissions()

	first, err := syncer.SyncCanonical(context.Background(), names)
	require.NoError(t, err)
	assert.Equal(t, len(names), first.Created)
	before, _ := repo.ListPermissions(context.Background())
	writes := repo.writes

	second, err := syncer.SyncCanonical(context.Background(), names)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, second)
	assert.Equal(t, writes, repo.writes)
	after, _ := repo.ListPermissions(context.Background())
	assert.Equal(t, before, after)
	assert.Equal(t, 1, cache.invalidations)
}

func TestSyncCanonicalUpdatesStaleDescriptionOnly(t *testing.T) {
	repo := newMemoryRepository()
	p := repo.seedPermission("users.view")
	stale := p
	stale.Description = "old"
	stale.Guard = GuardAPI
	repo.state.perms[p.ID] = stale
	syncer := NewSyncer(repo, nil, nil, nil)

	result, err := syncer.SyncCanonical(context.Background(), []string{"users.view"})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 1}, result)
	got, _ := repo.GetPermission(context.Background(), p.ID)
	assert.Equal(t, "View Users", got.Description)
	assert.Equal(t, GuardAPI, got.Guard)
}

func TestSyncCanonicalNeverDeletes(t *testing.T) {
	repo := newMemoryRepository()
	repo.seedPermission("legacy.thing")
	syncer := NewSyncer(repo, nil, nil, nil)

	_, err := syncer.SyncCanonical(context.Background(), []string{"users.view"})
	require.NoError(t, err)
	perms, _ := repo.ListPermissions(context.Background())
	assert.Len(t, perms, 2)
}

func TestSyncCanonicalRejectsMalformedBeforeWriting(t *testing.T) {
	repo := newMemoryRepository()
	syncer := NewSyncer(repo, nil, nil, nil)

	_, err := syncer.SyncCanonical(context.Background(), []string{"users.view", "broken"})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "names[1]")
	assert.Zero(t, repo.writes)
}

func TestSyncCanonicalEqualizesSuperAdmin(t *testing.T) {
	repo := newMemoryRepository()
	super := repo.seedRole(RoleSuperAdmin)
	syncer := NewSyncer(repo, nil, nil, nil)

	_, err := syncer.SyncCanonical(context.Background(), []string{"users.view", "users.edit"})
	require.NoError(t, err)
	ids, _ := repo.RolePermissionIDs(context.Background(), super.ID)
	assert.Len(t, ids, 2)
}

func TestSyncRolePermissionsFullReplace(t *testing.T) {
	repo := newMemoryRepository()
	editor := repo.seedRole("editor")
	a := repo.seedPermission("pages.view")
	b := repo.seedPermission("pages.edit")
	c := repo.seedPermission("themes.manage")
	repo.attach(editor.ID, a.ID, b.ID)
	audit := &shared.MemoryAuditRecorder{}
	syncer := NewSyncer(repo, newCountingCache(), audit, nil)
	ctx := shared.ContextWithActor(context.Background(), 1)

	diff, err := syncer.SyncRolePermissions(ctx, editor.ID, []int64{b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, diff.Added)
	assert.Equal(t, []int64{a.ID}, diff.Removed)

	ids, _ := repo.RolePermissionIDs(context.Background(), editor.ID)
	assert.Equal(t, []int64{b.ID, c.ID}, ids)
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, int64(1), audit.Entries[0].ActorID)
	assert.Equal(t, "role.permissions_synced", audit.Entries[0].Action)
}

func TestSyncRolePermissionsRejectsSuperAdmin(t *testing.T) {
	repo := newMemoryRepository()
	super := repo.seedRole(RoleSuperAdmin)
	syncer := NewSyncer(repo, nil, nil, nil)

	_, err := syncer.SyncRolePermissions(context.Background(), super.ID, nil)
	assert.ErrorIs(t, err, shared.ErrProtectedResource)
	assert.Zero(t, repo.writes)
}

func TestSyncRolePermissionsUnknownIDs(t *testing.T) {
	repo := newMemoryRepository()
	editor := repo.seedRole("editor")
	a := repo.seedPermission("pages.view")
	repo.attach(editor.ID, a.ID)
	syncer := NewSyncer(repo, nil, nil, nil)

	_, err := syncer.SyncRolePermissions(context.Background(), editor.ID, []int64{a.ID, 77})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = syncer.SyncRolePermissions(context.Background(), 999, nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	ids, _ := repo.RolePermissionIDs(context.Background(), editor.ID)
	assert.Equal(t, []int64{a.ID}, ids)
}

func TestSyncRolePermissionsAtomic(t *testing.T) {
	repo := newMemoryRepository()
	editor := repo.seedRole("editor")
	a := repo.seedPermission("pages.view")
	b := repo.seedPermission("pages.edit")
	repo.attach(editor.ID, a.ID)
	repo.failOn = "ReplaceRolePermissions"
	syncer := NewSyncer(repo, nil, nil, nil)

	_, err := syncer.SyncRolePermissions(context.Background(), editor.ID, []int64{b.ID})
	require.Error(t, err)
	ids, _ := repo.RolePermissionIDs(context.Background(), editor.ID)
	assert.Equal(t, []int64{a.ID}, ids)
}

func TestBulkDeletePermissions(t *testing.T) {
	repo := newMemoryRepository()
	editor := repo.seedRole("editor")
	super := repo.seedRole(RoleSuperAdmin)
	free := repo.seedPermission("backups.run")
	attached := repo.seedPermission("pages.edit")
	granted := repo.seedPermission("themes.manage")
	mirrored := repo.seedPermission("settings.edit")
	repo.attach(editor.ID, attached.ID)
	repo.attach(super.ID, free.ID, attached.ID, granted.ID, mirrored.ID)
	repo.grantDirect(9, granted.ID)
	syncer := NewSyncer(repo, newCountingCache(), nil, nil)

	result, err := syncer.BulkDeletePermissions(context.Background(), []int64{free.ID, attached.ID, granted.ID, mirrored.ID, 500})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.DeletedCount)
	require.Len(t, result.Skipped, 3)
	skipped := map[int64]string{}
	for _, s := range result.Skipped {
		skipped[s.ID] = s.Reason
	}
	assert.Contains(t, skipped[attached.ID], "roles")
	assert.Contains(t, skipped[granted.ID], "users")
	assert.Equal(t, "not found", skipped[500])

	perms, _ := repo.ListPermissions(context.Background())
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"pages.edit", "themes.manage"}, names)
}

func TestBulkDeleteEmpty(t *testing.T) {
	syncer := NewSyncer(newMemoryRepository(), nil, nil, nil)
	result, err := syncer.BulkDeletePermissions(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, result.DeletedCount)
	assert.NotNil(t, result.Skipped)
}
