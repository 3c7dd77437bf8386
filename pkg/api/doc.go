// Package api implements the rbacd admin HTTP API.
//
// Every route is registered through a discovery.MuxRegistry with controller,
// handler and permission metadata. The same registry is the route source for
// the seeder and the public-route lookup for the authorizer, so the admin
// API is seeded and enforced exactly like the host application's routes.
//
//	registry := discovery.NewMuxRegistry(mux.NewRouter())
//	server := api.NewServer(registry, deps)
//	server.Router().Use(authn.Handler, authz.Handler)
//
// Account mutations go through rbac.AccountService, so the hierarchy guard
// and audit trail apply to API callers the same way they apply in-process.
package api
