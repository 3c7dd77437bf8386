package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/httputil"
	"github.com/platinummonkey/rbacd/pkg/middleware"
	"github.com/platinummonkey/rbacd/pkg/rbac"
	"github.com/platinummonkey/rbacd/pkg/seeder"
)

// AuditSearcher queries stored audit entries
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// Dependencies are the services the admin API delegates to. Audit may be
// nil when no queryable sink is configured.
type Dependencies struct {
	Access      rbac.AccessStore
	Users       rbac.UserStore
	Accounts    *rbac.AccountService
	Permissions *rbac.PermissionService
	Resolver    *rbac.Resolver
	Seeder      *seeder.Seeder
	Audit       AuditSearcher
}

// Server is the rbacd admin HTTP API
type Server struct {
	registry *discovery.MuxRegistry
	deps     Dependencies

	accounts *AccountHandlers
	access   *AccessHandlers
}

// NewServer registers every admin route on registry. Each route carries its
// controller, handler and permission metadata so the server's own surface is
// seeded and enforced like any host route.
func NewServer(registry *discovery.MuxRegistry, deps Dependencies) *Server {
	s := &Server{
		registry: registry,
		deps:     deps,
		accounts: NewAccountHandlers(deps.Users, deps.Accounts, deps.Resolver),
		access:   NewAccessHandlers(deps.Access, deps.Permissions, deps.Seeder, deps.Audit),
	}
	s.accounts.RegisterRoutes(registry)
	s.access.RegisterRoutes(registry)
	registry.Handle(http.MethodGet, "/api/v1/whoami", s.whoami, discovery.Meta{
		Controller: "SessionController", Handler: "whoami", Permissions: []string{"view_profile"},
	})
	return s
}

// RouteTable returns a registry holding every admin route with no serving
// dependencies behind it. Offline seeding and reports discover from it.
func RouteTable() *discovery.MuxRegistry {
	return NewServer(discovery.NewMuxRegistry(mux.NewRouter()), Dependencies{}).Registry()
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.registry.Router()
}

// Registry returns the route registry, the discovery source for seeding
func (s *Server) Registry() *discovery.MuxRegistry {
	return s.registry
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.registry.Router().ServeHTTP(w, r)
}

// whoami handles GET /api/v1/whoami
func (s *Server) whoami(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	perms, err := s.deps.Resolver.Permissions(r.Context(), actor)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httputil.WriteSuccess(w, EffectivePermissions{User: actor, Permissions: perms})
}
