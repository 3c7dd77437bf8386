// Package middleware provides HTTP middleware for authentication, route
// authorization and rate limiting.
//
// # Authentication
//
// AuthMiddleware verifies the bearer token and stores the caller identity:
//
//	router.Use(middleware.NewAuthMiddleware(issuer, true).Handler)
//
// # Authorization
//
// Authorizer looks up the permission seeded for the matched route template
// and asks the rbac Checker for a decision. Routes registered as public skip
// the identity check. Unseeded or unmapped routes are denied.
//
//	authz := middleware.NewAuthorizer(checker, store, registry)
//	router.Use(authz.Handler)
//
// Handlers behind the authorizer read the caller with ActorFrom.
//
// # Rate Limiting
//
// RateLimit keys on the authenticated user or the client IP. LocalLimiter is
// a per-process token bucket; RedisLimiter shares a fixed window across
// instances and fails open when Redis is unreachable.
package middleware
