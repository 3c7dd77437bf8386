package seeder

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/events"
	"github.com/platinummonkey/rbacd/pkg/observability"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// Issue kinds reported by ValidateRouteMappings
const (
	IssueMissingPermission = "missing_permission"
	IssueDuplicateRoute    = "duplicate_route"
	IssueOrphanedRoute     = "orphaned_route"
	IssueUnmappedRoutes    = "unmapped_routes"
)

// Issue is one route mapping problem
type Issue struct {
	Kind       string `json:"kind"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	Permission string `json:"permission,omitempty"`
	Message    string `json:"message"`
}

// ValidationResult is valid iff it carries no issues
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// ValidateRouteMappings compares discovered routes with the store. Orphaned
// routes are reported, never deleted.
func (s *Seeder) ValidateRouteMappings(ctx context.Context) (result *ValidationResult, err error) {
	ctx, span := s.startSpan(ctx, "validate")
	defer func() { endSpan(span, err) }()

	result = &ValidationResult{Issues: []Issue{}}

	var discovered *discovery.Result
	if s.source != nil {
		discovered = s.discoverer.Discover(s.source)
	} else {
		discovered = s.discoverer.Discover(discovery.Endpoints{})
	}

	permissions, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	known := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		known[p.Name] = true
	}

	live := make(map[rbac.RouteKey]bool, len(discovered.Routes))
	for _, route := range discovered.Routes {
		live[rbac.RouteKey{Method: route.Method, Path: route.Path}] = true
		if name := route.Permission(); name != "" && !known[name] {
			result.Issues = append(result.Issues, Issue{
				Kind:       IssueMissingPermission,
				Method:     route.Method,
				Path:       route.Path,
				Permission: name,
				Message:    fmt.Sprintf("permission %s does not exist", name),
			})
		}
	}

	duplicates, err := s.store.DuplicateRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate routes: %w", err)
	}
	for _, key := range duplicates {
		result.Issues = append(result.Issues, Issue{
			Kind:    IssueDuplicateRoute,
			Method:  key.Method,
			Path:    key.Path,
			Message: fmt.Sprintf("route %s is stored more than once", key),
		})
	}

	if s.source != nil {
		stored, err := s.store.ListRoutes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list routes: %w", err)
		}
		reported := make(map[rbac.RouteKey]bool)
		for _, route := range stored {
			key := route.Key()
			if live[key] || reported[key] {
				continue
			}
			reported[key] = true
			result.Issues = append(result.Issues, Issue{
				Kind:    IssueOrphanedRoute,
				Method:  key.Method,
				Path:    key.Path,
				Message: fmt.Sprintf("route %s is no longer registered", key),
			})
		}
	}

	if n := discovered.Unmapped; n > 0 {
		result.Issues = append(result.Issues, Issue{
			Kind:    IssueUnmappedRoutes,
			Message: fmt.Sprintf("%d non-public routes have no permission", n),
		})
	}

	sort.SliceStable(result.Issues, func(i, j int) bool {
		if result.Issues[i].Kind != result.Issues[j].Kind {
			return result.Issues[i].Kind < result.Issues[j].Kind
		}
		if result.Issues[i].Path != result.Issues[j].Path {
			return result.Issues[i].Path < result.Issues[j].Path
		}
		return result.Issues[i].Method < result.Issues[j].Method
	})

	result.Valid = len(result.Issues) == 0
	s.metrics.SetValidationIssues(len(result.Issues))
	s.metrics.SetUnmappedRoutes(discovered.Unmapped)
	return result, nil
}

// ConfirmCleanup must be passed to Cleanup verbatim
const ConfirmCleanup = "DELETE-ACCESS-CONTROL"

// ErrCleanupNotConfirmed is returned when Cleanup is called without the
// confirmation phrase
var ErrCleanupNotConfirmed = &rbac.Error{Kind: rbac.KindBadRequest, Message: "cleanup requires confirmation " + ConfirmCleanup}

// CleanupResult counts deleted rows
type CleanupResult struct {
	RolePermissions int64 `json:"rolePermissions"`
	Permissions     int64 `json:"permissions"`
	Roles           int64 `json:"roles"`
}

// Cleanup deletes every role-permission link, permission and role, in that
// order. Routes and users keep their rows with the references cleared.
func (s *Seeder) Cleanup(ctx context.Context, confirm string) (result *CleanupResult, err error) {
	if confirm != ConfirmCleanup {
		return nil, ErrCleanupNotConfirmed
	}
	ctx, span := s.startSpan(ctx, "cleanup")
	defer func() { endSpan(span, err) }()

	logger := observability.FromContext(ctx).WithField("component", "seeder")
	result = &CleanupResult{}

	if result.RolePermissions, err = s.store.DeleteAllRolePermissions(ctx); err != nil {
		return result, fmt.Errorf("failed to delete role permissions: %w", err)
	}
	if result.Permissions, err = s.store.DeleteAllPermissions(ctx); err != nil {
		return result, fmt.Errorf("failed to delete permissions: %w", err)
	}
	if result.Roles, err = s.store.DeleteAllRoles(ctx); err != nil {
		return result, fmt.Errorf("failed to delete roles: %w", err)
	}

	s.recorder.Record(ctx, &audit.Entry{
		Action:       audit.ActionAccessControlReset,
		Severity:     audit.SeverityHigh,
		ResourceType: audit.ResourceTypeSystem,
		Success:      true,
		Metadata: map[string]interface{}{
			"rolePermissions": result.RolePermissions,
			"permissions":     result.Permissions,
			"roles":           result.Roles,
		},
	})
	s.events.Publish(events.Event{Kind: events.CatalogReseeded, Detail: "cleanup", At: s.now()})

	logger.WithFields(map[string]interface{}{
		"role_permissions": result.RolePermissions,
		"permissions":      result.Permissions,
		"roles":            result.Roles,
	}).Warn("access control data deleted")
	return result, nil
}
