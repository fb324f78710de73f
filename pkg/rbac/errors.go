package rbac

import (
	"errors"
	"fmt"
)

// Guard and lookup errors. Guard violations leave the store unchanged.
var (
	ErrSystemRole         = errors.New("system roles cannot be modified or deleted")
	ErrRoleInUse          = errors.New("role is assigned to users")
	ErrPermissionInUse    = errors.New("permission is granted by roles")
	ErrPermissionInMenu   = errors.New("permission gates menu items")
	ErrLastAdmin          = errors.New("the last administrator cannot lose the administrator role")
	ErrNoRoles            = errors.New("a user must hold at least one role")
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleExists         = errors.New("role name already exists")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrPermissionExists   = errors.New("permission name already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrMenuItemNotFound   = errors.New("menu item not found")
	ErrInvalidInput       = errors.New("invalid input")

	ErrUnauthenticated  = errors.New("authentication required")
	ErrPermissionDenied = errors.New("permission denied")
)

// PermissionDeniedError names the permission a session lacked.
type PermissionDeniedError struct {
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s required", e.Permission)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
