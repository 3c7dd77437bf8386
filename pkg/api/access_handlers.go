package api

import (
	"net/http"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/httputil"
	"github.com/platinummonkey/rbacd/pkg/middleware"
	"github.com/platinummonkey/rbacd/pkg/rbac"
	"github.com/platinummonkey/rbacd/pkg/seeder"
)

const maxAuditLimit = 500

// AccessHandlers exposes the access-control catalog, its reports and the
// security audit trail
type AccessHandlers struct {
	store       rbac.AccessStore
	permissions *rbac.PermissionService
	seeder      *seeder.Seeder
	audit       AuditSearcher
}

// NewAccessHandlers creates a new access handlers instance
func NewAccessHandlers(store rbac.AccessStore, permissions *rbac.PermissionService, s *seeder.Seeder, searcher AuditSearcher) *AccessHandlers {
	return &AccessHandlers{store: store, permissions: permissions, seeder: s, audit: searcher}
}

// RegisterRoutes registers access-control routes
func (h *AccessHandlers) RegisterRoutes(registry *discovery.MuxRegistry) {
	const controller = "AdminAccessControlController"
	registry.Handle(http.MethodGet, "/api/v1/admin/roles", h.listRoles,
		discovery.Meta{Controller: controller, Handler: "listRoles", Permissions: []string{"view_roles"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/permissions", h.listPermissions,
		discovery.Meta{Controller: controller, Handler: "listPermissions", Permissions: []string{"view_permissions"}})
	registry.Handle(http.MethodDelete, "/api/v1/admin/permissions/{name}", h.deletePermission,
		discovery.Meta{Controller: controller, Handler: "deletePermission", Permissions: []string{"manage_permissions"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/access-control/stats", h.stats,
		discovery.Meta{Controller: controller, Handler: "getStatistics", Permissions: []string{"view_permissions"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/access-control/report", h.report,
		discovery.Meta{Controller: controller, Handler: "getMappingReport", Permissions: []string{"view_permissions"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/access-control/validate", h.validate,
		discovery.Meta{Controller: controller, Handler: "validateMappings", Permissions: []string{"view_permissions"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/access-control/health", h.health,
		discovery.Meta{Controller: controller, Handler: "healthCheck", Permissions: []string{"view_permissions"}})
	registry.Handle(http.MethodGet, "/api/v1/admin/audit", h.searchAudit,
		discovery.Meta{Controller: controller, Handler: "searchAudit", Permissions: []string{"view_audit_logs"}})
}

// listRoles handles GET /api/v1/admin/roles
func (h *AccessHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// listPermissions handles GET /api/v1/admin/permissions
func (h *AccessHandlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// deletePermission handles DELETE /api/v1/admin/permissions/{name}
func (h *AccessHandlers) deletePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	if err := h.permissions.Delete(r.Context(), actor.ID, name); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// stats handles GET /api/v1/admin/access-control/stats
func (h *AccessHandlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.seeder.GetStatistics(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// report handles GET /api/v1/admin/access-control/report
func (h *AccessHandlers) report(w http.ResponseWriter, r *http.Request) {
	report, err := h.seeder.GenerateRouteMappingReport(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// validate handles GET /api/v1/admin/access-control/validate
func (h *AccessHandlers) validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.seeder.ValidateRouteMappings(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// health handles GET /api/v1/admin/access-control/health
func (h *AccessHandlers) health(w http.ResponseWriter, r *http.Request) {
	report := h.seeder.HealthCheck(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, report)
}

// searchAudit handles GET /api/v1/admin/audit
//
// Query parameters: actor_id, action, since (RFC 3339), success, limit.
func (h *AccessHandlers) searchAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "audit search is not configured")
		return
	}

	var filter audit.Filter
	var err error
	if filter.ActorID, err = httputil.ParseQueryInt64Ptr(r, "actor_id"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Success, err = httputil.ParseQueryBoolPtr(r, "success"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	since, err := httputil.ParseQueryTime(r, "since")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !since.IsZero() {
		filter.Since = &since
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 100); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	filter.Action = audit.Action(r.URL.Query().Get("action"))

	entries, err := h.audit.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteSuccess(w, entries)
}
