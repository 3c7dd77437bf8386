package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rbacd/pkg/auth"
	"github.com/platinummonkey/rbacd/pkg/contextkeys"
	"github.com/platinummonkey/rbacd/pkg/httputil"
	"github.com/platinummonkey/rbacd/pkg/observability"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// RouteMetadata reports the registration metadata of a route template
type RouteMetadata interface {
	IsPublic(method, pathTemplate string) bool
}

// Authorizer enforces the seeded route permissions on every matched route.
// Install it with router.Use so mux has resolved the route template.
type Authorizer struct {
	checker *rbac.Checker
	users   rbac.UserStore
	routes  RouteMetadata
}

// NewAuthorizer creates a route authorizer
func NewAuthorizer(checker *rbac.Checker, users rbac.UserStore, routes RouteMetadata) *Authorizer {
	return &Authorizer{checker: checker, users: users, routes: routes}
}

// Handler wraps next with the route permission check
func (a *Authorizer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		route := mux.CurrentRoute(r)
		if route == nil {
			httputil.WriteForbidden(w, "route has no permission mapping")
			return
		}
		template, err := route.GetPathTemplate()
		if err != nil {
			httputil.WriteForbidden(w, "route has no permission mapping")
			return
		}

		req := rbac.CheckRequest{
			Route:  rbac.RouteKey{Method: r.Method, Path: template},
			Public: a.routes != nil && a.routes.IsPublic(r.Method, template),
			IP:     httputil.ClientIP(r),
		}
		if !req.Public {
			actor, err := a.loadActor(ctx)
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			req.Actor = actor
		}

		decision, err := a.checker.CheckRoute(ctx, req)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if !decision.Allowed {
			logger := observability.FromContext(ctx).WithRoute(req.Route.Method, req.Route.Path)
			if req.Actor != nil {
				logger = logger.WithActor(req.Actor.ID)
			}
			logger.WithField("reason", decision.Reason).Info("request denied")
			if req.Actor == nil {
				httputil.WriteUnauthorized(w, decision.Reason)
				return
			}
			httputil.WriteForbidden(w, decision.Reason)
			return
		}

		if req.Actor != nil {
			ctx = context.WithValue(ctx, contextkeys.ActorKey, req.Actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loadActor returns the account behind the request identity. A token for an
// account that no longer exists is treated as anonymous.
func (a *Authorizer) loadActor(ctx context.Context) (*rbac.User, error) {
	ident, ok := auth.IdentityFrom(ctx)
	if !ok {
		return nil, nil
	}
	user, err := a.users.GetUser(ctx, ident.UserID)
	if errors.Is(err, rbac.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// ActorFrom returns the authorized account stored by Authorizer
func ActorFrom(ctx context.Context) (*rbac.User, bool) {
	u, ok := ctx.Value(contextkeys.ActorKey).(*rbac.User)
	return u, ok && u != nil
}
