package seeder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// Health check names
const (
	CheckStore     = "store"
	CheckCatalog   = "catalog"
	CheckHierarchy = "hierarchy"
)

// Health statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one health check
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HealthReport aggregates the health checks
type HealthReport struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// Healthy reports whether every check passed
func (r *HealthReport) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthCheck probes store connectivity, catalog integrity and hierarchy
// integrity concurrently. Failed checks are reported, not returned as errors.
func (s *Seeder) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, 3),
		Timestamp: s.now().UTC(),
	}
	var mu sync.Mutex

	checks := map[string]func(context.Context) error{
		CheckStore:     s.store.Ping,
		CheckCatalog:   s.checkCatalog,
		CheckHierarchy: s.checkHierarchy,
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			start := time.Now()
			err := check(gctx)
			result := CheckResult{Status: StatusHealthy, Duration: time.Since(start)}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Message = err.Error()
			}

			mu.Lock()
			report.Checks[name] = result
			if err != nil {
				report.Status = StatusUnhealthy
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// checkCatalog validates the catalog and confirms every declared permission
// and role is stored
func (s *Seeder) checkCatalog(ctx context.Context) error {
	if err := s.catalog.Validate().Err(); err != nil {
		return err
	}

	permissions, err := s.store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		stored[p.Name] = true
	}
	var missing []string
	for _, def := range s.catalog.Permissions {
		if !stored[def.Name] {
			missing = append(missing, def.Name)
		}
	}

	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return err
	}
	storedRoles := make(map[string]bool, len(roles))
	for _, r := range roles {
		storedRoles[r.Name] = true
	}
	for _, def := range s.catalog.Roles {
		if !storedRoles[def.Name] {
			missing = append(missing, "role "+def.Name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("not seeded: %s", strings.Join(missing, ", "))
	}
	return nil
}

// checkHierarchy verifies the stored roles: exactly one top-ranked system
// role and at most one default business role
func (s *Seeder) checkHierarchy(ctx context.Context) error {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return fmt.Errorf("no roles stored")
	}

	top := rbac.TopRoles(roles)
	if len(top) != 1 {
		names := make([]string, 0, len(top))
		for _, r := range top {
			names = append(names, r.Name)
		}
		return fmt.Errorf("expected exactly one top-ranked system role, found %d [%s]", len(top), strings.Join(names, ", "))
	}

	var defaults []string
	for _, r := range roles {
		if r.IsDefault && r.Type == rbac.RoleTypeBusiness {
			defaults = append(defaults, r.Name)
		}
	}
	if len(defaults) > 1 {
		return fmt.Errorf("more than one default business role: %s", strings.Join(defaults, ", "))
	}
	return nil
}
