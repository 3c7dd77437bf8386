// Package seeder reconciles the permission and role catalogs, and the routes
// found by discovery, into the access store.
//
// Seeding is idempotent: every insert is preceded by an existence check, so a
// second run creates nothing. Catalog inconsistencies (a role granting an
// undeclared permission, a route naming an unknown permission) are warnings;
// storage errors abort the current phase.
//
//	s, err := seeder.New(store, seeder.Config{Catalog: c, Source: registry})
//	summary, err := s.SeedAll(ctx)
//
// ValidateRouteMappings, GetStatistics, GenerateRouteMappingReport and
// HealthCheck are read-only. Cleanup deletes all access control data and
// requires the ConfirmCleanup phrase.
package seeder
