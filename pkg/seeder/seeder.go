package seeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/catalog"
	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/events"
	"github.com/platinummonkey/rbacd/pkg/observability"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

var tracer = otel.Tracer("github.com/platinummonkey/rbacd/pkg/seeder")

// Phase names used in logs and metrics
const (
	PhasePermissions     = "permissions"
	PhaseRoles           = "roles"
	PhaseRolePermissions = "role_permissions"
	PhaseRoutes          = "routes"
)

// Config configures a Seeder
type Config struct {
	Catalog *catalog.Catalog
	// Source supplies the host's endpoints. Route phases are skipped when nil.
	Source discovery.Source
	// Overwrite updates existing permissions and roles whose attributes
	// drifted from the catalog
	Overwrite bool

	Recorder *audit.Recorder
	Events   events.Publisher
	Metrics  *observability.Metrics
}

// Seeder reconciles the catalogs and discovered routes into the store.
// Every create is preceded by an existence check so runs converge.
type Seeder struct {
	store      rbac.AccessStore
	catalog    *catalog.Catalog
	source     discovery.Source
	discoverer *discovery.Discoverer
	overwrite  bool
	recorder   *audit.Recorder
	events     events.Publisher
	metrics    *observability.Metrics
	now        func() time.Time
}

// New creates a seeder over store
func New(store rbac.AccessStore, cfg Config) (*Seeder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder(nil, nil)
	}
	return &Seeder{
		store:      store,
		catalog:    cfg.Catalog,
		source:     cfg.Source,
		discoverer: discovery.ForCatalog(cfg.Catalog),
		overwrite:  cfg.Overwrite,
		recorder:   cfg.Recorder,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}, nil
}

// Result counts the outcome of a catalog phase
type Result struct {
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings,omitempty"`
}

// RouteResult counts the outcome of the route phase
type RouteResult struct {
	Created  int      `json:"created"`
	Updated  int      `json:"updated"`
	Mapped   int      `json:"mapped"`
	Unmapped int      `json:"unmapped"`
	Public   int      `json:"public"`
	Warnings []string `json:"warnings,omitempty"`
}

// Summary aggregates SeedAll
type Summary struct {
	Permissions     *Result       `json:"permissions"`
	Roles           *Result       `json:"roles"`
	RolePermissions *Result       `json:"rolePermissions"`
	Routes          *RouteResult  `json:"routes,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func (r *Result) warn(ctx context.Context, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.Warnings = append(r.Warnings, msg)
	observability.FromContext(ctx).Warn(msg)
}

// SeedPermissions creates missing permissions and, with Overwrite, updates
// drifted ones
func (s *Seeder) SeedPermissions(ctx context.Context) (result *Result, err error) {
	ctx, span := s.startSpan(ctx, PhasePermissions)
	defer func() { endSpan(span, err) }()

	result = &Result{}
	for _, def := range s.catalog.Permissions {
		resource, action, perr := def.ResourceAction()
		if perr != nil {
			result.warn(ctx, "permission %s: %v", def.Name, perr)
		}
		want := rbac.Permission{
			Name:        def.Name,
			Description: def.Description,
			Category:    def.Category,
			Resource:    resource,
			Action:      action,
			IsSystem:    def.IsSystem,
		}

		existing, err := s.store.GetPermissionByName(ctx, def.Name)
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			if err := s.store.CreatePermission(ctx, &want); err != nil {
				return result, fmt.Errorf("failed to create permission %s: %w", def.Name, err)
			}
			result.Created++
		case err != nil:
			return result, fmt.Errorf("failed to look up permission %s: %w", def.Name, err)
		case s.overwrite && permissionDrifted(existing, &want):
			want.ID = existing.ID
			if err := s.store.UpdatePermission(ctx, &want); err != nil {
				return result, fmt.Errorf("failed to update permission %s: %w", def.Name, err)
			}
			result.Updated++
		default:
			result.Skipped++
		}
	}

	s.record(PhasePermissions, result)
	return result, nil
}

// SeedRoles creates missing roles and, with Overwrite, updates drifted ones
func (s *Seeder) SeedRoles(ctx context.Context) (result *Result, err error) {
	ctx, span := s.startSpan(ctx, PhaseRoles)
	defer func() { endSpan(span, err) }()

	result = &Result{}
	for _, def := range s.catalog.Roles {
		want := rbac.Role{
			Name:        def.Name,
			Description: def.Description,
			Type:        rbac.RoleType(def.Type),
			Priority:    def.Priority,
			IsDefault:   def.IsDefault,
			IsSystem:    def.IsSystem,
		}
		if !want.Type.Valid() {
			result.warn(ctx, "role %s: unknown type %q", def.Name, def.Type)
			result.Skipped++
			continue
		}

		existing, err := s.store.GetRoleByName(ctx, def.Name)
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			if err := s.store.CreateRole(ctx, &want); err != nil {
				return result, fmt.Errorf("failed to create role %s: %w", def.Name, err)
			}
			result.Created++
		case err != nil:
			return result, fmt.Errorf("failed to look up role %s: %w", def.Name, err)
		case s.overwrite && roleDrifted(existing, &want):
			want.ID = existing.ID
			if err := s.store.UpdateRole(ctx, &want); err != nil {
				return result, fmt.Errorf("failed to update role %s: %w", def.Name, err)
			}
			result.Updated++
		default:
			result.Skipped++
		}
	}

	s.record(PhaseRoles, result)
	return result, nil
}

// SeedRolePermissions links every role to the permissions it grants. Links
// to roles or permissions missing from the store are skipped with a warning.
func (s *Seeder) SeedRolePermissions(ctx context.Context) (result *Result, err error) {
	ctx, span := s.startSpan(ctx, PhaseRolePermissions)
	defer func() { endSpan(span, err) }()

	result = &Result{}
	permissionIDs := make(map[string]int64)

	for _, def := range s.catalog.Roles {
		role, err := s.store.GetRoleByName(ctx, def.Name)
		if errors.Is(err, rbac.ErrNotFound) {
			result.warn(ctx, "role %s not found, skipping its permissions", def.Name)
			result.Skipped += len(def.Permissions)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to look up role %s: %w", def.Name, err)
		}

		for _, name := range def.Permissions {
			permissionID, ok := permissionIDs[name]
			if !ok {
				p, err := s.store.GetPermissionByName(ctx, name)
				if errors.Is(err, rbac.ErrNotFound) {
					result.warn(ctx, "role %s references unknown permission %s", def.Name, name)
					result.Skipped++
					continue
				}
				if err != nil {
					return result, fmt.Errorf("failed to look up permission %s: %w", name, err)
				}
				permissionID = p.ID
				permissionIDs[name] = permissionID
			}

			exists, err := s.store.RolePermissionExists(ctx, role.ID, permissionID)
			if err != nil {
				return result, fmt.Errorf("failed to check %s/%s: %w", def.Name, name, err)
			}
			if exists {
				result.Skipped++
				continue
			}
			if err := s.store.CreateRolePermission(ctx, &rbac.RolePermission{RoleID: role.ID, PermissionID: permissionID}); err != nil {
				if errors.Is(err, rbac.ErrConflict) {
					result.Skipped++
					continue
				}
				return result, fmt.Errorf("failed to link %s/%s: %w", def.Name, name, err)
			}
			result.Created++
		}
	}

	s.record(PhaseRolePermissions, result)
	return result, nil
}

// SeedRoutes upserts every discovered route by (method, path). A permission
// name that cannot be resolved stores the route without a permission.
func (s *Seeder) SeedRoutes(ctx context.Context) (result *RouteResult, err error) {
	ctx, span := s.startSpan(ctx, PhaseRoutes)
	defer func() { endSpan(span, err) }()

	result = &RouteResult{}
	if s.source == nil {
		return result, errors.New("no route source configured")
	}
	logger := observability.FromContext(ctx)
	discovered := s.discoverer.Discover(s.source)

	for _, route := range discovered.Routes {
		key := rbac.RouteKey{Method: route.Method, Path: route.Path}

		var permissionID *int64
		if name := route.Permission(); name != "" {
			p, err := s.store.GetPermissionByName(ctx, name)
			switch {
			case errors.Is(err, rbac.ErrNotFound):
				msg := fmt.Sprintf("route %s requires unknown permission %s", key, name)
				result.Warnings = append(result.Warnings, msg)
				logger.Warn(msg)
			case err != nil:
				return result, fmt.Errorf("failed to look up permission %s: %w", name, err)
			default:
				permissionID = &p.ID
			}
		}
		if route.NeedsReview {
			msg := fmt.Sprintf("route %s declares %d permissions; only %s is enforced", key, len(route.ExplicitPermissions), route.ExplicitPermissions[0])
			result.Warnings = append(result.Warnings, msg)
			logger.Warn(msg)
		}

		switch {
		case route.IsPublic:
			result.Public++
		case permissionID != nil:
			result.Mapped++
		default:
			result.Unmapped++
		}

		existing, err := s.store.GetRoute(ctx, key)
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			if err := s.store.CreateRoute(ctx, &rbac.Route{Method: key.Method, Path: key.Path, PermissionID: permissionID}); err != nil {
				return result, fmt.Errorf("failed to create route %s: %w", key, err)
			}
			result.Created++
		case err != nil:
			return result, fmt.Errorf("failed to look up route %s: %w", key, err)
		case !sameID(existing.PermissionID, permissionID):
			existing.PermissionID = permissionID
			if err := s.store.UpdateRoute(ctx, existing); err != nil {
				return result, fmt.Errorf("failed to update route %s: %w", key, err)
			}
			result.Updated++
		}
	}

	s.metrics.SeedItems(PhaseRoutes, "created", result.Created)
	s.metrics.SeedItems(PhaseRoutes, "updated", result.Updated)
	s.metrics.SeedWarning(len(result.Warnings))
	s.metrics.SetUnmappedRoutes(result.Unmapped)

	s.events.Publish(events.Event{Kind: events.RoutesReseeded, At: s.now()})
	return result, nil
}

// SeedAll runs every phase in order. A phase error aborts the run; warnings
// are collected.
func (s *Seeder) SeedAll(ctx context.Context) (*Summary, error) {
	start := s.now()
	logger := observability.FromContext(ctx).WithField("component", "seeder")
	summary := &Summary{}

	var err error
	if summary.Permissions, err = s.SeedPermissions(ctx); err != nil {
		return summary, err
	}
	summary.Warnings = append(summary.Warnings, summary.Permissions.Warnings...)

	if summary.Roles, err = s.SeedRoles(ctx); err != nil {
		return summary, err
	}
	summary.Warnings = append(summary.Warnings, summary.Roles.Warnings...)

	if summary.RolePermissions, err = s.SeedRolePermissions(ctx); err != nil {
		return summary, err
	}
	summary.Warnings = append(summary.Warnings, summary.RolePermissions.Warnings...)

	if s.source != nil {
		if summary.Routes, err = s.SeedRoutes(ctx); err != nil {
			return summary, err
		}
		summary.Warnings = append(summary.Warnings, summary.Routes.Warnings...)
	}

	summary.Duration = s.now().Sub(start)
	s.events.Publish(events.Event{Kind: events.CatalogReseeded, At: s.now()})

	logger.WithFields(map[string]interface{}{
		"permissions_created":      summary.Permissions.Created,
		"roles_created":            summary.Roles.Created,
		"role_permissions_created": summary.RolePermissions.Created,
		"warnings":                 len(summary.Warnings),
		"duration_ms":              summary.Duration.Milliseconds(),
	}).Info("access control seeding complete")
	return summary, nil
}

func (s *Seeder) record(phase string, r *Result) {
	s.metrics.SeedItems(phase, "created", r.Created)
	s.metrics.SeedItems(phase, "updated", r.Updated)
	s.metrics.SeedItems(phase, "skipped", r.Skipped)
	s.metrics.SeedWarning(len(r.Warnings))
}

func (s *Seeder) startSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Seeder."+phase, trace.WithAttributes(attribute.String("seeder.phase", phase)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func permissionDrifted(have, want *rbac.Permission) bool {
	return have.Description != want.Description ||
		have.Category != want.Category ||
		have.Resource != want.Resource ||
		have.Action != want.Action ||
		have.IsSystem != want.IsSystem
}

func roleDrifted(have, want *rbac.Role) bool {
	return have.Description != want.Description ||
		have.Type != want.Type ||
		have.Priority != want.Priority ||
		have.IsDefault != want.IsDefault ||
		have.IsSystem != want.IsSystem
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
