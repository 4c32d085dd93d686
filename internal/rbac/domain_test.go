package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProtected(t *testing.T) {
	for _, name := range []string{"super_admin", "admin", "user", "tenant_owner"} {
		assert.True(t, IsProtected(name), name)
	}
	assert.False(t, IsProtected("editor"))
	assert.False(t, IsProtected("Super_Admin"))
}

func TestDescribePermission(t *testing.T) {
	cases := map[string]string{
		"billing.manage":       "Manage Billing",
		"users.view":           "View Users",
		"page_blocks.bulk_add": "Bulk Add Page Blocks",
	}
	for in, want := range cases {
		assert.Equal(t, want, DescribePermission(in), in)
	}
}

func TestDiffPermissionsFullReplace(t *testing.T) {
	// current {A,B}, target {B,C}
	d := DiffPermissions([]int64{1, 2}, []int64{2, 3})
	assert.Equal(t, []int64{3}, d.Added)
	assert.Equal(t, []int64{1}, d.Removed)
	assert.False(t, d.Empty())

	same := DiffPermissions([]int64{2, 1}, []int64{1, 2})
	assert.True(t, same.Empty())
	assert.NotNil(t, same.Added)
}

func TestGroupByModule(t *testing.T) {
	billing := "billing"
	perms := []Permission{
		{ID: 1, Name: "users.view"},
		{ID: 2, Name: "invoices.send", Module: &billing},
		{ID: 3, Name: "users.edit"},
		{ID: 4, Name: "billing.manage"},
	}
	groups := GroupByModule(perms)
	if assert.Len(t, groups, 2) {
		assert.Equal(t, "billing", groups[0].Module)
		assert.Equal(t, "billing.manage", groups[0].Permissions[0].Name)
		assert.Equal(t, "invoices.send", groups[0].Permissions[1].Name)
		assert.Equal(t, "users", groups[1].Module)
		assert.Equal(t, "users.edit", groups[1].Permissions[0].Name)
	}
}

func TestUniqueIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 3, 7}, UniqueIDs([]int64{7, 3, 3, 0, -2, 1}))
	assert.Empty(t, UniqueIDs(nil))
}
