package discovery

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Meta is the access metadata attached to a handler at registration
type Meta struct {
	Controller  string
	Handler     string
	Public      bool
	Permissions []string
}

// MuxRegistry registers handlers on a gorilla/mux router and records their
// metadata so the router can feed discovery and request-time checks
type MuxRegistry struct {
	router *mux.Router

	mu    sync.RWMutex
	metas map[string]Endpoint
}

// NewMuxRegistry wraps router
func NewMuxRegistry(router *mux.Router) *MuxRegistry {
	return &MuxRegistry{router: router, metas: make(map[string]Endpoint)}
}

// Router returns the wrapped router
func (r *MuxRegistry) Router() *mux.Router {
	return r.router
}

// Handle registers h for method and path with its metadata
func (r *MuxRegistry) Handle(method, path string, h http.HandlerFunc, meta Meta) *mux.Route {
	method = strings.ToUpper(method)
	r.mu.Lock()
	r.metas[metaKey(method, path)] = Endpoint{
		Method:              method,
		Path:                path,
		ControllerName:      meta.Controller,
		HandlerName:         meta.Handler,
		IsPublic:            meta.Public,
		ExplicitPermissions: meta.Permissions,
	}
	r.mu.Unlock()
	return r.router.HandleFunc(path, h).Methods(method)
}

// Lookup returns the metadata registered for method and path template
func (r *MuxRegistry) Lookup(method, path string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.metas[metaKey(strings.ToUpper(method), path)]
	return ep, ok
}

// IsPublic reports whether method and path were registered as public
func (r *MuxRegistry) IsPublic(method, path string) bool {
	ep, ok := r.Lookup(method, path)
	return ok && ep.IsPublic
}

// Endpoints walks the router. Routes registered directly on the router,
// without metadata, are reported bare so they surface as unmapped.
func (r *MuxRegistry) Endpoints() []Endpoint {
	var out []Endpoint
	seen := make(map[string]bool)

	_ = r.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		for _, method := range methods {
			key := metaKey(method, path)
			if seen[key] {
				continue
			}
			seen[key] = true
			if ep, ok := r.Lookup(method, path); ok {
				out = append(out, ep)
			} else {
				out = append(out, Endpoint{Method: method, Path: path})
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func metaKey(method, path string) string {
	return method + " " + path
}
