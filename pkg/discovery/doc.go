// Package discovery derives route permission requirements from a host
// application's registered endpoints.
//
// Hosts describe their endpoints through Source. Each endpoint is classified
// as public, explicitly mapped (first declared permission wins), auto mapped
// from an {action}_{resource} suggestion, or unmapped:
//
//	registry := discovery.NewMuxRegistry(mux.NewRouter())
//	registry.Handle("GET", "/api/v1/roles", h.listRoles, discovery.Meta{
//		Controller: "RolesController",
//		Handler:    "listRoles",
//	})
//	result := discovery.ForCatalog(c).Discover(registry)
//
// Suggestions take the action from the handler's leading verb (get, list,
// find, fetch and show become view) or, failing that, the HTTP method, and
// the resource from the controller name. A suggestion is only used when the
// catalog declares it.
package discovery
