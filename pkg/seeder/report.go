package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// Statistics summarizes the stored access control data
type Statistics struct {
	Permissions             int            `json:"permissions"`
	PermissionsByCategory   map[string]int `json:"permissionsByCategory"`
	Roles                   int            `json:"roles"`
	RolesByType             map[string]int `json:"rolesByType"`
	RolePermissions         int            `json:"rolePermissions"`
	Routes                  int            `json:"routes"`
	MappedRoutes            int            `json:"mappedRoutes"`
	RoutesWithoutPermission int            `json:"routesWithoutPermission"`
}

// GetStatistics counts stored permissions, roles, links and routes
func (s *Seeder) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{RolesByType: make(map[string]int)}

	byCategory, err := s.store.CountPermissionsByCategory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count permissions: %w", err)
	}
	stats.PermissionsByCategory = byCategory
	for _, n := range byCategory {
		stats.Permissions += n
	}

	byType, err := s.store.CountRolesByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count roles: %w", err)
	}
	for t, n := range byType {
		stats.RolesByType[string(t)] = n
		stats.Roles += n
	}

	if stats.RolePermissions, err = s.store.CountRolePermissions(ctx); err != nil {
		return nil, fmt.Errorf("failed to count role permissions: %w", err)
	}

	routes, err := s.store.ListRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	stats.Routes = len(routes)
	for _, r := range routes {
		if r.PermissionID != nil {
			stats.MappedRoutes++
		} else {
			stats.RoutesWithoutPermission++
		}
	}
	return stats, nil
}

// ReportEntry is one route in the mapping report
type ReportEntry struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Tag         discovery.Mapping `json:"tag"`
	Permission  string            `json:"permission,omitempty"`
	Controller  string            `json:"controller,omitempty"`
	Handler     string            `json:"handler,omitempty"`
	NeedsReview bool              `json:"needsReview,omitempty"`
	// Stored is the permission currently persisted for the route; empty
	// when the route is not seeded or has no permission
	Stored string `json:"stored,omitempty"`
	Seeded bool   `json:"seeded"`
}

// ReportSummary mirrors the discovery aggregates
type ReportSummary struct {
	Total    int `json:"total"`
	Public   int `json:"public"`
	Explicit int `json:"explicit"`
	Auto     int `json:"auto"`
	Unmapped int `json:"unmapped"`
}

// MappingReport lists every discovered route with its mapping tag
type MappingReport struct {
	GeneratedAt time.Time                `json:"generatedAt"`
	Summary     ReportSummary            `json:"summary"`
	Routes      []ReportEntry            `json:"routes"`
	ByResource  map[string][]ReportEntry `json:"byResource"`
}

// GenerateRouteMappingReport tags each discovered route public, explicit,
// auto or unmapped and joins what is stored for it
func (s *Seeder) GenerateRouteMappingReport(ctx context.Context) (*MappingReport, error) {
	if s.source == nil {
		return nil, fmt.Errorf("no route source configured")
	}
	discovered := s.discoverer.Discover(s.source)

	stored, err := s.store.ListRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	byKey := make(map[rbac.RouteKey]rbac.Route, len(stored))
	for _, r := range stored {
		byKey[r.Key()] = r
	}

	report := &MappingReport{
		GeneratedAt: s.now().UTC(),
		Summary: ReportSummary{
			Total:    discovered.TotalRoutes,
			Public:   discovered.PublicRoutes,
			Explicit: discovered.ExplicitlyMapped,
			Auto:     discovered.AutoMapped,
			Unmapped: discovered.Unmapped,
		},
		Routes:     make([]ReportEntry, 0, len(discovered.Routes)),
		ByResource: make(map[string][]ReportEntry),
	}

	for _, route := range discovered.Routes {
		entry := ReportEntry{
			Method:      route.Method,
			Path:        route.Path,
			Tag:         route.Mapping,
			Permission:  route.Permission(),
			Controller:  route.ControllerName,
			Handler:     route.HandlerName,
			NeedsReview: route.NeedsReview,
		}
		if r, ok := byKey[rbac.RouteKey{Method: route.Method, Path: route.Path}]; ok {
			entry.Seeded = true
			entry.Stored = r.PermissionName
		}
		report.Routes = append(report.Routes, entry)
		report.ByResource[route.Resource] = append(report.ByResource[route.Resource], entry)
	}
	return report, nil
}
