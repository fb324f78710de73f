package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(id int64) *int64 { return &id }

func titles(nodes []MenuNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Title)
	}
	return out
}

func TestBuildMenuTree(t *testing.T) {
	items := []MenuItem{
		{ID: 1, Title: "Dashboard", DisplayOrder: 0, IsActive: true},
		{ID: 2, Title: "Users", DisplayOrder: 2, IsActive: true},
		{ID: 3, Title: "Settings", DisplayOrder: 1, IsActive: true},
		{ID: 4, ParentID: ptr(2), Title: "Roles", DisplayOrder: 1, IsActive: true},
		{ID: 5, ParentID: ptr(2), Title: "Accounts", DisplayOrder: 0, IsActive: true},
		{ID: 6, ParentID: ptr(2), Title: "Archive", DisplayOrder: 0, IsActive: true},
		{ID: 7, ParentID: ptr(5), Title: "Locked", DisplayOrder: 0, IsActive: true},
	}

	tree := BuildMenuTree(items, nil)
	require.Len(t, tree, 3)
	assert.Equal(t, []string{"Dashboard", "Settings", "Users"}, titles(tree))

	users := tree[2]
	assert.Equal(t, []string{"Accounts", "Archive", "Roles"}, titles(users.Children), "ties break on id")
	assert.Equal(t, []string{"Locked"}, titles(users.Children[0].Children))
}

func TestBuildMenuTreeFiltering(t *testing.T) {
	items := []MenuItem{
		{ID: 1, Title: "Users", IsActive: true},
		{ID: 2, ParentID: ptr(1), Title: "Accounts", IsActive: true},
		{ID: 3, Title: "Reports", IsActive: true},
		{ID: 4, ParentID: ptr(3), Title: "Grades", IsActive: true},
		{ID: 5, ParentID: ptr(99), Title: "Orphan", IsActive: true},
	}

	tree := BuildMenuTree(items, func(item MenuItem) bool { return item.ID != 1 })
	require.Len(t, tree, 1, "a hidden parent hides its subtree and orphans are dropped")
	assert.Equal(t, "Reports", tree[0].Title)
	assert.Equal(t, []string{"Grades"}, titles(tree[0].Children))
}

func TestBuildMenuTreeCycle(t *testing.T) {
	items := []MenuItem{
		{ID: 1, Title: "Home", IsActive: true},
		{ID: 2, ParentID: ptr(3), Title: "A", IsActive: true},
		{ID: 3, ParentID: ptr(2), Title: "B", IsActive: true},
	}
	tree := BuildMenuTree(items, nil)
	assert.Equal(t, []string{"Home"}, titles(tree))
}

func TestBuildMenuTreeEmpty(t *testing.T) {
	tree := BuildMenuTree(nil, nil)
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}

func TestMenuItemStore(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	users, err := store.CreateMenuItem(ctx, MenuItemInput{
		Title:         "Users",
		Route:         "/admin/users",
		DisplayOrder:  1,
		PermissionIDs: []int64{permissionID(t, store, PermissionUsersManage)},
	})
	require.NoError(t, err)
	assert.True(t, users.IsActive)
	assert.Equal(t, TargetSelf, users.Target)
	assert.Equal(t, []string{PermissionUsersManage}, users.Permissions)

	inactive := false
	child, err := store.CreateMenuItem(ctx, MenuItemInput{
		ParentID:     &users.ID,
		Title:        "Roles",
		DisplayOrder: 2,
		IsActive:     &inactive,
		Target:       TargetBlank,
	})
	require.NoError(t, err)

	_, err = store.CreateMenuItem(ctx, MenuItemInput{ParentID: ptr(9999), Title: "Lost"})
	assert.ErrorIs(t, err, ErrMenuItemNotFound)
	_, err = store.CreateMenuItem(ctx, MenuItemInput{Title: "Bad", Target: "_parent"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = store.CreateMenuItem(ctx, MenuItemInput{Title: "Gated", PermissionIDs: []int64{9999}})
	assert.ErrorIs(t, err, ErrPermissionNotFound)

	items, err := store.ListMenuItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, users.ID, items[0].ID)
	require.NotNil(t, items[1].ParentID)
	assert.Equal(t, users.ID, *items[1].ParentID)
	assert.False(t, items[1].IsActive)
	assert.Equal(t, TargetBlank, items[1].Target)
	assert.Equal(t, []string{PermissionUsersManage}, items[0].Permissions)
	assert.Empty(t, items[1].Permissions)

	require.NoError(t, store.DeleteMenuItem(ctx, users.ID))
	items, err = store.ListMenuItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items, "children are deleted with their parent")
	assert.ErrorIs(t, store.DeleteMenuItem(ctx, child.ID), ErrMenuItemNotFound)
}
