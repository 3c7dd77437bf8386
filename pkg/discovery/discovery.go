package discovery

import (
	"sort"
	"strings"
	"unicode"

	"github.com/platinummonkey/rbacd/pkg/catalog"
)

// Endpoint is one registered handler and its declared access metadata
type Endpoint struct {
	Method              string   `json:"method"`
	Path                string   `json:"path"`
	ControllerName      string   `json:"controllerName"`
	HandlerName         string   `json:"handlerName"`
	IsPublic            bool     `json:"isPublic"`
	ExplicitPermissions []string `json:"explicitPermissions,omitempty"`
}

// Source enumerates the endpoints of a host application
type Source interface {
	Endpoints() []Endpoint
}

// Endpoints is a static Source
type Endpoints []Endpoint

// Endpoints implements Source
func (e Endpoints) Endpoints() []Endpoint {
	return e
}

// Mapping describes how a route's permission was decided
type Mapping string

const (
	MappingPublic   Mapping = "public"
	MappingExplicit Mapping = "explicit"
	MappingAuto     Mapping = "auto"
	MappingUnmapped Mapping = "unmapped"
)

// UnknownResource groups routes whose resource could not be inferred
const UnknownResource = "unknown"

// Route is the discovery output for one endpoint
type Route struct {
	Method              string   `json:"method"`
	Path                string   `json:"path"`
	IsPublic            bool     `json:"isPublic"`
	ExplicitPermissions []string `json:"explicitPermissions,omitempty"`
	SuggestedPermission *string  `json:"suggestedPermission"`
	ControllerName      string   `json:"controllerName"`
	HandlerName         string   `json:"handlerName"`
	Resource            string   `json:"resource"`
	Mapping             Mapping  `json:"mapping"`
	// NeedsReview is set when more than one explicit permission was
	// declared; only the first is enforced.
	NeedsReview bool `json:"needsReview,omitempty"`
}

// Permission returns the permission the route should require, or "" for
// public and unmapped routes
func (r Route) Permission() string {
	switch r.Mapping {
	case MappingExplicit:
		return r.ExplicitPermissions[0]
	case MappingAuto:
		return *r.SuggestedPermission
	default:
		return ""
	}
}

// Result aggregates a discovery run
type Result struct {
	TotalRoutes      int                `json:"totalRoutes"`
	PublicRoutes     int                `json:"publicRoutes"`
	ExplicitlyMapped int                `json:"explicitlyMapped"`
	AutoMapped       int                `json:"autoMapped"`
	Unmapped         int                `json:"unmapped"`
	Routes           []Route            `json:"routes"`
	ByResource       map[string][]Route `json:"byResource"`
}

// UnmappedRoutes returns the non-public routes without a permission
func (r *Result) UnmappedRoutes() []Route {
	var out []Route
	for _, route := range r.Routes {
		if route.Mapping == MappingUnmapped {
			out = append(out, route)
		}
	}
	return out
}

// ReviewRoutes returns routes that declared several permissions
func (r *Result) ReviewRoutes() []Route {
	var out []Route
	for _, route := range r.Routes {
		if route.NeedsReview {
			out = append(out, route)
		}
	}
	return out
}

// Discoverer turns endpoints into route requirements
type Discoverer struct {
	known func(name string) bool
}

// NewDiscoverer creates a discoverer. Suggestions are accepted only when
// known reports the permission exists; a nil known accepts any suggestion.
func NewDiscoverer(known func(name string) bool) *Discoverer {
	return &Discoverer{known: known}
}

// ForCatalog creates a discoverer that only suggests permissions declared in c
func ForCatalog(c *catalog.Catalog) *Discoverer {
	return NewDiscoverer(c.HasPermission)
}

// Discover classifies every endpoint of src. Routes are returned sorted by
// path then method.
func (d *Discoverer) Discover(src Source) *Result {
	result := &Result{ByResource: make(map[string][]Route)}

	for _, ep := range src.Endpoints() {
		route := d.classify(ep)
		result.Routes = append(result.Routes, route)
	}

	sort.SliceStable(result.Routes, func(i, j int) bool {
		if result.Routes[i].Path != result.Routes[j].Path {
			return result.Routes[i].Path < result.Routes[j].Path
		}
		return result.Routes[i].Method < result.Routes[j].Method
	})

	for _, route := range result.Routes {
		result.TotalRoutes++
		switch route.Mapping {
		case MappingPublic:
			result.PublicRoutes++
		case MappingExplicit:
			result.ExplicitlyMapped++
		case MappingAuto:
			result.AutoMapped++
		case MappingUnmapped:
			result.Unmapped++
		}
		result.ByResource[route.Resource] = append(result.ByResource[route.Resource], route)
	}
	return result
}

func (d *Discoverer) classify(ep Endpoint) Route {
	route := Route{
		Method:              strings.ToUpper(ep.Method),
		Path:                ep.Path,
		IsPublic:            ep.IsPublic,
		ExplicitPermissions: nonEmpty(ep.ExplicitPermissions),
		ControllerName:      ep.ControllerName,
		HandlerName:         ep.HandlerName,
		Resource:            ControllerResource(ep.ControllerName),
	}

	if action, resource, ok := Suggest(ep); ok {
		name := catalog.PermissionName(action, resource)
		if d.known == nil || d.known(name) {
			route.SuggestedPermission = &name
		}
	}

	switch {
	case route.IsPublic:
		route.Mapping = MappingPublic
	case len(route.ExplicitPermissions) > 0:
		route.Mapping = MappingExplicit
		route.NeedsReview = len(route.ExplicitPermissions) > 1
		if _, resource, err := catalog.ParsePermissionName(route.ExplicitPermissions[0]); err == nil {
			route.Resource = resource
		}
	case route.SuggestedPermission != nil:
		route.Mapping = MappingAuto
	default:
		route.Mapping = MappingUnmapped
	}

	if route.Resource == "" {
		route.Resource = UnknownResource
	}
	return route
}

func nonEmpty(names []string) []string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

var handlerVerbs = map[string]string{
	"get":    "view",
	"find":   "view",
	"list":   "view",
	"fetch":  "view",
	"show":   "view",
	"create": "create",
	"add":    "create",
	"post":   "create",
	"update": "update",
	"edit":   "update",
	"patch":  "update",
	"put":    "update",
	"delete": "delete",
	"remove": "delete",
}

var methodVerbs = map[string]string{
	"GET":    "view",
	"POST":   "create",
	"PUT":    "update",
	"PATCH":  "update",
	"DELETE": "delete",
}

// Suggest derives an {action, resource} pair from the handler and controller
// names. The action comes from the handler's leading verb, falling back to
// the HTTP method; the resource from the controller name.
func Suggest(ep Endpoint) (action, resource string, ok bool) {
	resource = ControllerResource(ep.ControllerName)
	if resource == "" {
		return "", "", false
	}

	words := splitWords(ep.HandlerName)
	if len(words) > 0 {
		action = handlerVerbs[words[0]]
	}
	if action == "" {
		action = methodVerbs[strings.ToUpper(ep.Method)]
	}
	if action == "" {
		return "", "", false
	}
	return action, resource, true
}

// ControllerResource converts a controller name to a snake_case resource:
// "AdminReportsController" becomes "reports", "UserRolesController"
// becomes "user_roles".
func ControllerResource(controller string) string {
	words := splitWords(controller)
	if n := len(words); n > 1 && words[n-1] == "controller" {
		words = words[:n-1]
	}
	if len(words) > 1 && words[0] == "admin" {
		words = words[1:]
	}
	if n := len(words); n > 1 && words[n-1] == "admin" {
		words = words[:n-1]
	}
	return strings.Join(words, "_")
}

// splitWords splits camelCase, PascalCase and snake_case identifiers into
// lower-case words
func splitWords(s string) []string {
	var words []string
	var current []rune
	runes := []rune(s)

	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}

	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(current) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return words
}
