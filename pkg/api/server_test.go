package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/auth"
	"github.com/platinummonkey/rbacd/pkg/catalog"
	"github.com/platinummonkey/rbacd/pkg/discovery"
	"github.com/platinummonkey/rbacd/pkg/middleware"
	"github.com/platinummonkey/rbacd/pkg/rbac"
	"github.com/platinummonkey/rbacd/pkg/seeder"
)

type testEnv struct {
	server *Server
	store  *rbac.Store
	issuer *auth.TokenIssuer
	users  map[string]int64
	roles  map[string]int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := rbac.OpenDB(ctx, rbac.DriverSQLite, ":memory:", rbac.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := rbac.NewStore(db)

	sink, err := audit.NewDBSink(db)
	require.NoError(t, err)
	recorder := audit.NewRecorder(sink, nil)

	cat, err := catalog.Default()
	require.NoError(t, err)

	registry := discovery.NewMuxRegistry(mux.NewRouter())
	s, err := seeder.New(store, seeder.Config{Catalog: cat, Source: registry, Recorder: recorder})
	require.NoError(t, err)

	server := NewServer(registry, Dependencies{
		Access:      store,
		Users:       store,
		Accounts:    rbac.NewAccountService(store, store, recorder, nil, nil),
		Permissions: rbac.NewPermissionService(store, recorder, nil),
		Resolver:    rbac.NewResolver(store, nil),
		Seeder:      s,
		Audit:       sink,
	})

	// routes must be registered before seeding discovers them
	_, err = s.SeedAll(ctx)
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer("0123456789abcdef0123456789abcdef", "rbacd-test", time.Hour)
	require.NoError(t, err)

	checker := rbac.NewChecker(rbac.NewRouteRequirements(store, 64, time.Minute, nil), rbac.NewResolver(store, nil), recorder, nil)
	server.Router().Use(
		middleware.NewAuthMiddleware(issuer, true).Handler,
		middleware.NewAuthorizer(checker, store, registry).Handler,
	)

	env := &testEnv{server: server, store: store, issuer: issuer, users: map[string]int64{}, roles: map[string]int64{}}
	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		env.roles[r.Name] = r.ID
	}

	for _, u := range []struct{ name, assigned string }{
		{"root", "super_admin"},
		{"admin", "admin"},
		{"support", "support"},
		{"shopper", ""},
	} {
		user := &rbac.User{Email: u.name + "@example.com", RoleID: idPtr(env.roles["customer"])}
		if u.assigned != "" {
			user.AssignedRoleID = idPtr(env.roles[u.assigned])
		}
		require.NoError(t, store.CreateUser(ctx, user))
		env.users[u.name] = user.ID
	}
	return env
}

func idPtr(v int64) *int64 { return &v }

func (e *testEnv) do(t *testing.T, as, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != "" {
		token, _, err := e.issuer.Issue(e.users[as], as+"@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) userPath(name, suffix string) string {
	return fmt.Sprintf("/api/v1/admin/users/%d%s", e.users[name], suffix)
}

func TestServer_RoutesAreSeeded(t *testing.T) {
	env := newTestEnv(t)

	routes, err := env.store.ListRoutes(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, routes)
	for _, r := range routes {
		assert.NotNil(t, r.PermissionID, "%s %s has no permission", r.Method, r.Path)
	}

	route, err := env.store.GetRoute(context.Background(), rbac.RouteKey{Method: "POST", Path: "/api/v1/admin/users/{id}/ban"})
	require.NoError(t, err)
	assert.Equal(t, "ban_users", route.PermissionName)
}

func TestServer_EffectivePermissions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "support", http.MethodGet, env.userPath("shopper", "/permissions"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp EffectivePermissions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Permissions, "create_orders")
	assert.NotContains(t, resp.Permissions, "view_users")

	w = env.do(t, "shopper", http.MethodGet, env.userPath("support", "/permissions"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "", http.MethodGet, env.userPath("support", "/permissions"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "support", http.MethodGet, "/api/v1/admin/users/9999/permissions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Whoami(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "shopper", http.MethodGet, "/api/v1/whoami", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp EffectivePermissions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, env.users["shopper"], resp.User.ID)
	assert.Contains(t, resp.Permissions, "view_profile")
}

func TestServer_BanFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "admin", http.MethodPost, env.userPath("shopper", "/ban"), map[string]string{"reason": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "admin", http.MethodPost, env.userPath("shopper", "/ban"), map[string]string{"reason": "chargeback fraud ring"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var user rbac.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	require.NotNil(t, user.Restriction)
	assert.Equal(t, rbac.RestrictionBan, user.Restriction.Kind)

	// the banned account is locked out of everything but public routes
	w = env.do(t, "shopper", http.MethodGet, "/api/v1/whoami", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "account is banned")

	w = env.do(t, "admin", http.MethodDelete, env.userPath("shopper", "/ban"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "shopper", http.MethodGet, "/api/v1/whoami", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "admin", http.MethodGet, "/api/v1/admin/audit?action=USER_BANNED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
}

func TestServer_GuardDenials(t *testing.T) {
	env := newTestEnv(t)

	// support holds neither assign_roles nor ban_users
	w := env.do(t, "support", http.MethodPut, env.userPath("support", "/roles"),
		map[string]interface{}{"assignedRoleId": env.roles["super_admin"]})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// admin may assign roles, but not above its own rank
	w = env.do(t, "admin", http.MethodPut, env.userPath("support", "/roles"),
		map[string]interface{}{"assignedRoleId": env.roles["super_admin"]})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "you cannot assign a role that outranks your own")

	// nor touch an account ranked at or above its own
	w = env.do(t, "admin", http.MethodPut, env.userPath("root", "/roles"),
		map[string]interface{}{"assignedRoleId": env.roles["manager"]})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient privileges")

	// nor touch its own account
	w = env.do(t, "admin", http.MethodPut, env.userPath("admin", "/roles"),
		map[string]interface{}{"assignedRoleId": env.roles["manager"]})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "admin", http.MethodPut, env.userPath("support", "/roles"),
		map[string]interface{}{"assignedRoleId": env.roles["manager"]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// support can suspend a shopper but not the admin above it
	w = env.do(t, "support", http.MethodPost, env.userPath("admin", "/suspend"), map[string]interface{}{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "admin", http.MethodGet, "/api/v1/admin/audit?action=PRIVILEGE_ESCALATION_BLOCKED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestServer_SuspendFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "support", http.MethodPost, env.userPath("shopper", "/suspend"),
		map[string]interface{}{"reason": "abusive chat", "durationSeconds": int64(10_000_000_000)})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = env.do(t, "support", http.MethodPost, env.userPath("shopper", "/suspend"),
		map[string]interface{}{"reason": "abusive chat", "durationSeconds": 3600})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var user rbac.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	require.NotNil(t, user.Restriction)
	assert.NotNil(t, user.Restriction.ExpiresAt)

	w = env.do(t, "support", http.MethodDelete, env.userPath("shopper", "/suspend"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lifted rbac.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lifted))
	assert.Equal(t, user.ID, lifted.ID)
	assert.Nil(t, lifted.Restriction)
}

func TestServer_DeletePermission(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "admin", http.MethodDelete, "/api/v1/admin/permissions/view_analytics", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "root", http.MethodDelete, "/api/v1/admin/permissions/manage_settings", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "root", http.MethodDelete, "/api/v1/admin/permissions/view_analytics", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, "root", http.MethodDelete, "/api/v1/admin/permissions/view_analytics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Reports(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "admin", http.MethodGet, "/api/v1/admin/access-control/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats seeder.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 6, stats.Roles)
	assert.Equal(t, stats.Routes, stats.MappedRoutes)

	w = env.do(t, "admin", http.MethodGet, "/api/v1/admin/access-control/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result seeder.ValidationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Valid, "%+v", result.Issues)

	w = env.do(t, "admin", http.MethodGet, "/api/v1/admin/access-control/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report seeder.MappingReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Summary.Unmapped)

	w = env.do(t, "admin", http.MethodGet, "/api/v1/admin/access-control/health", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, "support", http.MethodGet, "/api/v1/admin/roles", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, "admin", http.MethodGet, "/api/v1/admin/roles", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_AuditQueryValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"actor_id=x", "success=maybe", "since=yesterday", "limit=lots"} {
		w := env.do(t, "admin", http.MethodGet, "/api/v1/admin/audit?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestRouteTable(t *testing.T) {
	table := RouteTable()

	ep, ok := table.Lookup(http.MethodPut, "/api/v1/admin/users/{id}/roles")
	require.True(t, ok)
	assert.Equal(t, []string{"assign_roles"}, ep.ExplicitPermissions)

	c, err := catalog.Default()
	require.NoError(t, err)
	result := discovery.ForCatalog(c).Discover(table)
	assert.Empty(t, result.UnmappedRoutes())
	assert.Equal(t, len(table.Endpoints()), result.TotalRoutes)
}
