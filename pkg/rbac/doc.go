// Package rbac is the authorization engine: the permission catalog store,
// role hierarchy, effective permission resolution, route checks and the
// guarded account mutations.
//
// # Model
//
// A user holds up to two roles. The business role (customer, wholesale, ...)
// describes what the account buys; the assigned role (support, admin, ...)
// is the administrative slot. Effective permissions are the union of both
// roles' permissions:
//
//	resolver := rbac.NewResolver(store, cache)
//	ok, err := resolver.Has(ctx, user, "view_users")
//
// A user's rank is the highest priority among the admin roles they hold.
// Users without an admin role have no rank.
//
// # Route checks
//
// Each (method, path) maps to at most one permission. The Checker looks the
// requirement up through an expiring LRU and denies when the route is
// unknown or unmapped:
//
//	checker := rbac.NewChecker(routes, resolver, recorder, metrics)
//	decision, err := checker.CheckRoute(ctx, rbac.CheckRequest{Actor: u, Route: key})
//
// Public routes are allowed without auditing. Every other decision writes a
// PERMISSION_CHECK entry.
//
// # Hierarchy guard
//
// AccountService applies the guard to role assignment, ban, unban, suspend
// and unsuspend, in this order:
//
//  1. an actor may never modify themselves (CRITICAL SUSPICIOUS_ACTIVITY)
//  2. the actor must strictly outrank the target
//  3. a requested role may not outrank the actor
//  4. only holders of a top role may grant a top role
//
// Each denial is audited exactly once and returned as ErrForbidden.
// Successful mutations are audited with securityValidation=PASSED and
// published as events so caches can be invalidated.
//
// # Storage
//
// Store implements AccessStore and UserStore on database/sql for PostgreSQL
// and SQLite. OpenDB applies the schema through RunMigrations.
package rbac
