// Package rbac stores roles, permissions, user role assignments, and the
// permission-gated navigation menu, and answers authorization questions.
//
// # Store
//
// Store persists the role graph. Mutations that would break an invariant
// fail with a guard error and leave the database unchanged:
//
//   - system roles cannot be updated or deleted (ErrSystemRole)
//   - roles held by a user cannot be deleted (ErrRoleInUse)
//   - permissions granted by a role or gating a menu item cannot be deleted
//   - a user must keep at least one role (ErrNoRoles)
//   - the last holder of the administrator role keeps it (ErrLastAdmin)
//
// LoadGrants resolves the role and permission snapshot cached on a session.
//
// # Authorizer
//
// Authorizer checks the snapshot on a session:
//
//	authz := rbac.NewAuthorizer(store, rbac.WithAuditLogger(auditLogger))
//	router.Handle("/roles", authz.Require(rbac.PermissionRolesManage)(h))
//	tree, err := authz.VisibleMenu(ctx, sess)
//
// Holders of the administrator role pass every check. Menu items are visible
// when active and either ungated or gated by any permission the session holds.
package rbac
