package shared

// Platform permissions checked by the admin panel.
const (
	PermUsersView        = "users.view"
	PermUsersEdit        = "users.edit"
	PermUsersImpersonate = "users.impersonate"

	PermRolesView   = "roles.view"
	PermRolesEdit   = "roles.edit"
	PermRolesDelete = "roles.delete"

	PermPermissionsView   = "permissions.view"
	PermPermissionsEdit   = "permissions.edit"
	PermPermissionsDelete = "permissions.delete"

	PermTenantsView   = "tenants.view"
	PermTenantsCreate = "tenants.create"
	PermTenantsManage = "tenants.manage_members"

	PermPagesView    = "pages.view"
	PermPagesEdit    = "pages.edit"
	PermThemesManage = "themes.manage"
	PermSettingsEdit = "settings.edit"
	PermBackupsRun   = "backups.run"
)

// CanonicalPermissions lists the permission catalogue seeded by the sync command.
func CanonicalPermissions() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermUsersImpersonate,
		PermRolesView,
		PermRolesEdit,
		PermRolesDelete,
		PermPermissionsView,
		PermPermissionsEdit,
		PermPermissionsDelete,
		PermTenantsView,
		PermTenantsCreate,
		PermTenantsManage,
		PermPagesView,
		PermPagesEdit,
		PermThemesManage,
		PermSettingsEdit,
		PermBackupsRun,
	}
}
