// Package contextkeys defines every context key used across the module.
//
// Keeping the keys in one place documents which middleware sets a value and
// who reads it:
//
//	ctx = context.WithValue(ctx, contextkeys.IdentityKey, identity)
//	identity, _ := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.Authenticate
	// Required by: middleware.RequirePermission, api handlers
	IdentityKey Key = "identity"

	// ActorKey contains *rbac.User, the authenticated account loaded from
	// the user store
	// Set by: middleware.RequirePermission
	// Used by: api handlers that act on behalf of the caller
	ActorKey Key = "actor"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit recorder
	RequestIDKey Key = "request_id"

	// UserIDKey contains the caller's user ID as a string
	// Set by: middleware.Authenticate
	// Used by: logger
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: cmd/rbacd and httputil.LoggingMiddleware
	// Used by: observability.FromContext
	LoggerKey Key = "logger"
)
