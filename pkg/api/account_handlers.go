package api

import (
	"net/http"

	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/httputil"
	"github.com/platinummonkey/rbacd/pkg/middleware"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// AccountHandlers handles role assignment and account restriction requests
type AccountHandlers struct {
	users    rbac.UserStore
	accounts *rbac.AccountService
	resolver *rbac.Resolver
}

// NewAccountHandlers creates a new account handlers instance
func NewAccountHandlers(users rbac.UserStore, accounts *rbac.AccountService, resolver *rbac.Resolver) *AccountHandlers {
	return &AccountHandlers{users: users, accounts: accounts, resolver: resolver}
}

// EffectivePermissions is the response of the permissions lookup
type EffectivePermissions struct {
	User        *rbac.User `json:"user"`
	Permissions []string   `json:"permissions"`
}

// RegisterRoutes registers account routes
func (h *AccountHandlers) RegisterRoutes(registry *discovery.MuxRegistry) {
	const controller = "AdminUsersController"
	registry.Handle(http.MethodGet, "/api/v1/admin/users/{id}", h.getUser,
		discovery.Meta{Controller: controller, Handler: "getUser", Permissions: []string{"view_users"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/users/{id}/permissions", h.getPermissions,
		discovery.Meta{Controller: controller, Handler: "getPermissions", Permissions: []string{"view_users"}})
	registry.Handle(http.MethodPut, "/api/v1/admin/users/{id}/roles", h.assignRoles,
		discovery.Meta{Controller: controller, Handler: "assignRoles", Permissions: []string{"assign_roles"}})
	registry.Handle(http.MethodPost, "/api/v1/admin/users/{id}/ban", h.ban,
		discovery.Meta{Controller: controller, Handler: "banUser", Permissions: []string{"ban_users"}})
	registry.Handle(http.MethodDelete, "/api/v1/admin/users/{id}/ban", h.unban,
		discovery.Meta{Controller: controller, Handler: "unbanUser", Permissions: []string{"ban_users"}})
	registry.Handle(http.MethodPost, "/api/v1/admin/users/{id}/suspend", h.suspend,
		discovery.Meta{Controller: controller, Handler: "suspendUser", Permissions: []string{"suspend_users"}})
	registry.Handle(http.MethodDelete, "/api/v1/admin/users/{id}/suspend", h.unsuspend,
		discovery.Meta{Controller: controller, Handler: "unsuspendUser", Permissions: []string{"suspend_users"}})
}

// getUser handles GET /api/v1/admin/users/{id}
func (h *AccountHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// getPermissions handles GET /api/v1/admin/users/{id}/permissions
func (h *AccountHandlers) getPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	perms, err := h.resolver.Permissions(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httputil.WriteSuccess(w, EffectivePermissions{User: user, Permissions: perms})
}

// assignRoles handles PUT /api/v1/admin/users/{id}/roles
func (h *AccountHandlers) assignRoles(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	var req rbac.AssignRolesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	h.respond(w, r)(h.accounts.AssignRoles(r.Context(), actor, target, req))
}

// ban handles POST /api/v1/admin/users/{id}/ban
func (h *AccountHandlers) ban(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	var req rbac.BanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	h.respond(w, r)(h.accounts.Ban(r.Context(), actor, target, req))
}

// unban handles DELETE /api/v1/admin/users/{id}/ban
func (h *AccountHandlers) unban(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.accounts.Unban(r.Context(), actor, target))
}

// suspend handles POST /api/v1/admin/users/{id}/suspend
func (h *AccountHandlers) suspend(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	var req rbac.SuspendRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	h.respond(w, r)(h.accounts.Suspend(r.Context(), actor, target, req))
}

// unsuspend handles DELETE /api/v1/admin/users/{id}/suspend
func (h *AccountHandlers) unsuspend(w http.ResponseWriter, r *http.Request) {
	actor, target, ok := h.parties(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.accounts.Unsuspend(r.Context(), actor, target))
}

// parties returns the authorized caller and the target account id
func (h *AccountHandlers) parties(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, 0, false
	}
	target, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	return actor.ID, target, true
}

func (h *AccountHandlers) respond(w http.ResponseWriter, r *http.Request) func(*rbac.User, error) {
	return func(user *rbac.User, err error) {
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, user)
	}
}
