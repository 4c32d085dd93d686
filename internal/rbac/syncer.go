package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/linkdeck/linkdeck/internal/shared"
)

// SyncResult reports catalogue reconciliation counts.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Changed reports whether the sync wrote anything.
func (r SyncResult) Changed() bool { return r.Created > 0 || r.Updated > 0 }

// SkippedPermission names a permission excluded from a bulk delete.
type SkippedPermission struct {
	ID     int64  `json:"id"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

// BulkDeleteResult reports the outcome of BulkDeletePermissions.
type BulkDeleteResult struct {
	DeletedCount int64               `json:"deleted_count"`
	Skipped      []SkippedPermission `json:"skipped"`
}

// Syncer reconciles the permission catalogue and role assignments.
type Syncer struct {
	repo   Repository
	cache  PermissionCache
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewSyncer constructs a Syncer. audit may be nil.
func NewSyncer(repo Repository, cache PermissionCache, audit shared.AuditRecorder, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{repo: repo, cache: cache, audit: audit, logger: logger}
}

// SyncCanonical creates absent names and refreshes stale descriptions.
// Names absent from the input are left untouched.
func (s *Syncer) SyncCanonical(ctx context.Context, names []string) (SyncResult, error) {
	wanted, err := normalizeCanonical(names)
	if err != nil {
		return SyncResult{}, err
	}
	var result SyncResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.ListPermissions(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]Permission, len(existing))
		for _, p := range existing {
			byName[p.Name] = p
		}
		for _, name := range wanted {
			desc := DescribePermission(name)
			current, ok := byName[name]
			if !ok {
				if _, err := tx.InsertPermission(ctx, Permission{Name: name, Guard: GuardWeb, Description: desc}); err != nil {
					return fmt.Errorf("sync %s: %w", name, err)
				}
				result.Created++
				continue
			}
			if current.Description == desc {
				continue
			}
			current.Description = desc
			if _, err := tx.UpdatePermission(ctx, current); err != nil {
				return fmt.Errorf("sync %s: %w", name, err)
			}
			result.Updated++
		}
		if result.Created > 0 {
			return equalizeSuperAdmin(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	if !result.Changed() {
		return result, nil
	}
	if err := s.invalidate(ctx); err != nil {
		return SyncResult{}, err
	}
	s.logger.Info("permissions synced", slog.Int("created", result.Created), slog.Int("updated", result.Updated))
	return result, nil
}

// SyncRolePermissions sets the role's permission set to exactly permissionIDs.
func (s *Syncer) SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Diff, error) {
	target := UniqueIDs(permissionIDs)
	var diff Diff
	var roleName string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.Name == RoleSuperAdmin {
			return shared.Protected("super_admin permissions track the full catalogue")
		}
		if err := requirePermissions(ctx, tx, target); err != nil {
			return err
		}
		current, err := tx.RolePermissionIDs(ctx, roleID)
		if err != nil {
			return err
		}
		diff = DiffPermissions(current, target)
		if diff.Empty() {
			return nil
		}
		roleName = role.Name
		return tx.ReplaceRolePermissions(ctx, roleID, target)
	})
	if err != nil {
		return Diff{}, err
	}
	if diff.Empty() {
		return diff, nil
	}
	if err := s.invalidate(ctx); err != nil {
		return Diff{}, err
	}
	if err := shared.Audit(ctx, s.audit, shared.AuditLog{
		Action:   "role.permissions_synced",
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Meta:     map[string]any{"role": roleName, "added": diff.Added, "removed": diff.Removed},
	}); err != nil {
		s.logger.Warn("audit role sync", slog.Any("error", err))
	}
	return diff, nil
}

// BulkDeletePermissions deletes the eligible subset of ids and reports the rest.
func (s *Syncer) BulkDeletePermissions(ctx context.Context, ids []int64) (BulkDeleteResult, error) {
	ids = UniqueIDs(ids)
	result := BulkDeleteResult{Skipped: []SkippedPermission{}}
	if len(ids) == 0 {
		return result, nil
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = BulkDeleteResult{Skipped: []SkippedPermission{}}
		perms, err := tx.ListPermissions(ctx)
		if err != nil {
			return err
		}
		names := make(map[int64]string, len(perms))
		for _, p := range perms {
			names[p.ID] = p.Name
		}
		usage, err := tx.PermissionUsage(ctx, ids)
		if err != nil {
			return err
		}
		eligible := make([]int64, 0, len(ids))
		for _, id := range ids {
			name, ok := names[id]
			if !ok {
				result.Skipped = append(result.Skipped, SkippedPermission{ID: id, Reason: "not found"})
				continue
			}
			if u := usage[id]; u.InUse() {
				result.Skipped = append(result.Skipped, SkippedPermission{ID: id, Name: name, Reason: usageReason(u)})
				continue
			}
			eligible = append(eligible, id)
		}
		n, err := tx.DeletePermissions(ctx, eligible)
		if err != nil {
			return err
		}
		result.DeletedCount = n
		return nil
	})
	if err != nil {
		return BulkDeleteResult{}, err
	}
	if result.DeletedCount > 0 {
		if err := s.invalidate(ctx); err != nil {
			return BulkDeleteResult{}, err
		}
	}
	return result, nil
}

func (s *Syncer) invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

func usageReason(u PermissionUsage) string {
	var parts []string
	if u.Roles > 0 {
		parts = append(parts, fmt.Sprintf("attached to %d roles", u.Roles))
	}
	if u.DirectGrants > 0 {
		parts = append(parts, fmt.Sprintf("granted directly to %d users", u.DirectGrants))
	}
	return strings.Join(parts, " and ")
}

// normalizeCanonical validates every name before any write happens.
func normalizeCanonical(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	fields := map[string]string{}
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		if !shared.ValidPermissionName(name) {
			fields[fmt.Sprintf("names[%d]", i)] = fmt.Sprintf("%q must look like subject.action", raw)
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(fields) > 0 {
		return nil, &shared.ValidationError{Fields: fields}
	}
	return out, nil
}
