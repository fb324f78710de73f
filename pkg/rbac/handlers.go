package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/collegeadmin/pkg/audit"
	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
	"github.com/platinummonkey/collegeadmin/pkg/session"
)

// Handlers provides HTTP handlers for RBAC administration
type Handlers struct {
	store *Store
	authz *Authorizer
	audit audit.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(store *Store, authz *Authorizer, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{store: store, authz: authz, audit: auditLogger}
}

// RegisterRoutes registers RBAC routes, each behind its permission gate.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	gate := func(permission string, fn http.HandlerFunc) http.Handler {
		return h.authz.Require(permission)(fn)
	}

	// Roles
	router.Handle("/roles", gate(PermissionRolesManage, h.listRoles)).Methods(http.MethodGet)
	router.Handle("/roles", gate(PermissionRolesManage, h.createRole)).Methods(http.MethodPost)
	router.Handle("/roles/{id}", gate(PermissionRolesManage, h.getRole)).Methods(http.MethodGet)
	router.Handle("/roles/{id}", gate(PermissionRolesManage, h.updateRole)).Methods(http.MethodPut)
	router.Handle("/roles/{id}", gate(PermissionRolesManage, h.deleteRole)).Methods(http.MethodDelete)

	// Permissions
	router.Handle("/permissions", gate(PermissionPermissionsManage, h.listPermissions)).Methods(http.MethodGet)
	router.Handle("/permissions", gate(PermissionPermissionsManage, h.createPermission)).Methods(http.MethodPost)
	router.Handle("/permissions/{id}", gate(PermissionPermissionsManage, h.deletePermission)).Methods(http.MethodDelete)

	// User role assignments
	router.Handle("/users/{id}/roles", gate(PermissionUsersManage, h.getUserRoles)).Methods(http.MethodGet)
	router.Handle("/users/{id}/roles", gate(PermissionUsersManage, h.setUserRoles)).Methods(http.MethodPut)

	// Menu
	router.Handle("/menu-items", gate(PermissionMenusManage, h.listMenuItems)).Methods(http.MethodGet)
	router.Handle("/menu-items", gate(PermissionMenusManage, h.createMenuItem)).Methods(http.MethodPost)
	router.Handle("/menu-items/{id}", gate(PermissionMenusManage, h.deleteMenuItem)).Methods(http.MethodDelete)
}

// writeError maps store errors to HTTP responses. Storage failures are
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoRoles):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound),
		errors.Is(err, ErrUserNotFound), errors.Is(err, ErrMenuItemNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrSystemRole), errors.Is(err, ErrRoleInUse),
		errors.Is(err, ErrPermissionInUse), errors.Is(err, ErrPermissionInMenu),
		errors.Is(err, ErrLastAdmin), errors.Is(err, ErrRoleExists),
		errors.Is(err, ErrPermissionExists):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("rbac request failed")
		httputil.WriteInternalError(w)
	}
}

func (h *Handlers) record(r *http.Request, eventType audit.EventType, message string, meta map[string]interface{}) {
	event := audit.NewEvent(r, eventType, audit.EventStatusSuccess)
	if s, ok := session.FromContext(r.Context()); ok {
		event.Username = s.Username
	}
	event.Message = message
	for k, v := range meta {
		event.WithMetadata(k, v)
	}
	audit.Record(r.Context(), h.audit, event)
}

// listRoles handles GET /roles
func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

// getRole handles GET /roles/{id}
func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.store.GetRole(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

// createRole handles POST /roles
func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var in RoleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	role, err := h.store.CreateRole(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminRoleCreate, "role created", map[string]interface{}{
		"role_id": role.ID, "role": role.Name,
	})
	_ = httputil.WriteCreated(w, role)
}

// updateRole handles PUT /roles/{id}
func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var in RoleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	role, err := h.store.UpdateRole(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminRoleUpdate, "role updated", map[string]interface{}{
		"role_id": role.ID, "role": role.Name,
	})
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

// deleteRole handles DELETE /roles/{id}
func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteRole(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminRoleDelete, "role deleted", map[string]interface{}{"role_id": id})
	httputil.WriteNoContent(w)
}

// listPermissions handles GET /permissions
func (h *Handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if perms == nil {
		perms = []*Permission{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, perms)
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Module      string `json:"module"`
	Description string `json:"description"`
}

// createPermission handles POST /permissions
func (h *Handlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	p := &Permission{Name: req.Name, Module: req.Module, Description: req.Description}
	if err := h.store.CreatePermission(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminPermissionCreate, "permission created", map[string]interface{}{
		"permission_id": p.ID, "permission": p.Name,
	})
	_ = httputil.WriteCreated(w, p)
}

// deletePermission handles DELETE /permissions/{id}
func (h *Handlers) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeletePermission(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminPermissionDelete, "permission deleted", map[string]interface{}{"permission_id": id})
	httputil.WriteNoContent(w)
}

// getUserRoles handles GET /users/{id}/roles
func (h *Handlers) getUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.store.GetUserRoles(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

type setUserRolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

// setUserRoles handles PUT /users/{id}/roles
func (h *Handlers) setUserRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setUserRolesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.store.SetUserRoles(r.Context(), id, req.RoleIDs); err != nil {
		writeError(w, r, err)
		return
	}
	roles, err := h.store.GetUserRoles(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminUserRolesChange, "user roles changed", map[string]interface{}{
		"target_user_id": id, "role_ids": req.RoleIDs,
	})
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

// listMenuItems handles GET /menu-items
func (h *Handlers) listMenuItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListMenuItems(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []MenuItem{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, items)
}

// createMenuItem handles POST /menu-items
func (h *Handlers) createMenuItem(w http.ResponseWriter, r *http.Request) {
	var in MenuItemInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	item, err := h.store.CreateMenuItem(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminMenuItemCreate, "menu item created", map[string]interface{}{
		"menu_item_id": item.ID, "title": item.Title,
	})
	_ = httputil.WriteCreated(w, item)
}

// deleteMenuItem handles DELETE /menu-items/{id}
func (h *Handlers) deleteMenuItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteMenuItem(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, audit.EventTypeAdminMenuItemDelete, "menu item deleted", map[string]interface{}{"menu_item_id": id})
	httputil.WriteNoContent(w)
}
