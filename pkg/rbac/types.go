package rbac

import (
	"time"
)

// Core permission names checked by the admin endpoints.
const (
	PermissionUsersManage       = "users.manage"
	PermissionUsersUnlock       = "users.unlock"
	PermissionRolesManage       = "roles.manage"
	PermissionPermissionsManage = "permissions.manage"
	PermissionMenusManage       = "menus.manage"
	PermissionAuditView         = "audit.view"
	PermissionDashboardView     = "dashboard.view"
)

// DefaultAdminRole is the name of the system administrator role.
const DefaultAdminRole = "Admin"

// Role represents a role with a set of permissions
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
	UserCount   int       `json:"user_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleInput carries the editable fields of a role. PermissionIDs replaces
// the role's grants wholesale.
type RoleInput struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	PermissionIDs []int64 `json:"permission_ids"`
}

// Permission is an atomic capability.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Module      string    `json:"module"`
	Description string    `json:"description"`
	RoleCount   int       `json:"role_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// MenuItem is one navigation entry. ParentID references another item.
type MenuItem struct {
	ID           int64    `json:"id"`
	ParentID     *int64   `json:"parent_id,omitempty"`
	Title        string   `json:"title"`
	Route        string   `json:"route"`
	Icon         string   `json:"icon,omitempty"`
	DisplayOrder int      `json:"display_order"`
	IsActive     bool     `json:"is_active"`
	Target       string   `json:"target"`
	Permissions  []string `json:"permissions"`
}

// MenuItemInput carries the fields of a new menu item.
type MenuItemInput struct {
	ParentID      *int64  `json:"parent_id,omitempty"`
	Title         string  `json:"title"`
	Route         string  `json:"route"`
	Icon          string  `json:"icon"`
	DisplayOrder  int     `json:"display_order"`
	IsActive      *bool   `json:"is_active,omitempty"`
	Target        string  `json:"target"`
	PermissionIDs []int64 `json:"permission_ids"`
}

// MenuNode is a visible menu item with its visible children.
type MenuNode struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Route    string     `json:"route"`
	Icon     string     `json:"icon,omitempty"`
	Target   string     `json:"target"`
	Children []MenuNode `json:"children,omitempty"`
}

// MenuTree is the ordered list of top-level nodes.
type MenuTree []MenuNode
