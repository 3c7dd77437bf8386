package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PermissionCRUD(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	p := &Permission{Name: "view_products", Description: "Browse", Category: "products", Resource: "products", Action: "view"}
	require.NoError(t, store.CreatePermission(ctx, p))
	assert.NotZero(t, p.ID)

	got, err := store.GetPermissionByName(ctx, "view_products")
	require.NoError(t, err)
	assert.Equal(t, "products", got.Resource)
	assert.Equal(t, "view", got.Action)
	assert.False(t, got.IsSystem)

	got.Description = "Browse the catalog"
	got.IsSystem = true
	require.NoError(t, store.UpdatePermission(ctx, got))

	again, err := store.GetPermissionByName(ctx, "view_products")
	require.NoError(t, err)
	assert.Equal(t, "Browse the catalog", again.Description)
	assert.True(t, again.IsSystem)

	_, err = store.GetPermissionByName(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = store.UpdatePermission(ctx, &Permission{ID: 999, Name: "ghost"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_DuplicatePermissionIsConflict(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.CreatePermission(ctx, &Permission{Name: "view_orders"}))
	err := store.CreatePermission(ctx, &Permission{Name: "view_orders"})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.NotContains(t, PublicMessage(err), "UNIQUE")
}

func TestStore_DeletePermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.DeletePermission(ctx, f.perms["manage_permissions"].ID)
	assert.True(t, errors.Is(err, ErrForbidden))

	require.NoError(t, f.store.DeletePermission(ctx, f.perms["create_products"].ID))
	_, err = f.store.GetPermissionByName(ctx, "create_products")
	assert.True(t, errors.Is(err, ErrNotFound))

	// links cascade
	names, err := f.store.PermissionNamesForRoles(ctx, f.roles["wholesale"].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"view_products"}, names)

	assert.True(t, errors.Is(f.store.DeletePermission(ctx, 12345), ErrNotFound))
}

func TestStore_Roles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roles, err := f.store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 5)
	assert.Equal(t, "super_admin", roles[0].Name)
	assert.Equal(t, "customer", roles[len(roles)-1].Name)

	r, err := f.store.GetRoleByName(ctx, "support")
	require.NoError(t, err)
	assert.Equal(t, RoleTypeAdmin, r.Type)
	assert.Equal(t, 20, r.Priority)

	r.Priority = 25
	r.Description = "Front line"
	require.NoError(t, f.store.UpdateRole(ctx, r))

	again, err := f.store.GetRole(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, again.Priority)

	err = f.store.CreateRole(ctx, &Role{Name: "support", Type: RoleTypeAdmin})
	assert.True(t, errors.Is(err, ErrConflict))

	_, err = f.store.GetRole(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_RolePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exists, err := f.store.RolePermissionExists(ctx, f.roles["support"].ID, f.perms["view_users"].ID)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.store.RolePermissionExists(ctx, f.roles["support"].ID, f.perms["ban_users"].ID)
	require.NoError(t, err)
	assert.False(t, exists)

	err = f.store.CreateRolePermission(ctx, &RolePermission{RoleID: f.roles["support"].ID, PermissionID: f.perms["view_users"].ID})
	assert.True(t, errors.Is(err, ErrConflict))

	n, err := f.store.CountRolePermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1+2+1+3+6, n)

	names, err := f.store.PermissionNamesForRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStore_Routes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pid := f.perms["view_products"].ID
	r := &Route{Method: "GET", Path: "/api/v1/products", PermissionID: &pid}
	require.NoError(t, f.store.CreateRoute(ctx, r))
	require.NoError(t, f.store.CreateRoute(ctx, &Route{Method: "GET", Path: "/health"}))

	got, err := f.store.GetRoute(ctx, RouteKey{Method: "GET", Path: "/api/v1/products"})
	require.NoError(t, err)
	assert.Equal(t, "view_products", got.PermissionName)
	require.NotNil(t, got.PermissionID)

	got.PermissionID = nil
	require.NoError(t, f.store.UpdateRoute(ctx, got))
	got, err = f.store.GetRoute(ctx, r.Key())
	require.NoError(t, err)
	assert.Nil(t, got.PermissionID)
	assert.Empty(t, got.PermissionName)

	_, err = f.store.GetRoute(ctx, RouteKey{Method: "POST", Path: "/health"})
	assert.True(t, errors.Is(err, ErrNotFound))

	routes, err := f.store.ListRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "/api/v1/products", routes[0].Path)

	dups, err := f.store.DuplicateRoutes(ctx)
	require.NoError(t, err)
	assert.Empty(t, dups)

	require.NoError(t, f.store.CreateRoute(ctx, &Route{Method: "GET", Path: "/health"}))
	dups, err = f.store.DuplicateRoutes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RouteKey{{Method: "GET", Path: "/health"}}, dups)
}

func TestStore_Counts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byCategory, err := f.store.CountPermissionsByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"test": 6}, byCategory)

	byType, err := f.store.CountRolesByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, byType[RoleTypeBusiness])
	assert.Equal(t, 3, byType[RoleTypeAdmin])
}

func TestStore_DeleteAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pid := f.perms["view_products"].ID
	require.NoError(t, f.store.CreateRoute(ctx, &Route{Method: "GET", Path: "/p", PermissionID: &pid}))

	n, err := f.store.DeleteAllRolePermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	n, err = f.store.DeleteAllPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	n, err = f.store.DeleteAllRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	route, err := f.store.GetRoute(ctx, RouteKey{Method: "GET", Path: "/p"})
	require.NoError(t, err)
	assert.Nil(t, route.PermissionID)

	u := f.user(t, "admin")
	assert.Nil(t, u.RoleID)
	assert.Nil(t, u.AssignedRoleID)
}

func TestStore_Users(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.user(t, "admin")
	require.NotNil(t, u.Role)
	require.NotNil(t, u.AssignedRole)
	assert.Equal(t, "customer", u.Role.Name)
	assert.Equal(t, "admin", u.AssignedRole.Name)
	assert.Nil(t, u.Restriction)

	require.NoError(t, f.store.UpdateUserRoles(ctx, u.ID, &f.roles["wholesale"].ID, nil))
	u = f.user(t, "admin")
	assert.Equal(t, "wholesale", u.Role.Name)
	assert.Nil(t, u.AssignedRole)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, f.store.SetRestriction(ctx, u.ID, &Restriction{
		Kind:      RestrictionSuspend,
		Reason:    "chargeback review",
		ExpiresAt: &expires,
		ImposedBy: f.users["root"].ID,
		ImposedAt: time.Now(),
	}))
	u = f.user(t, "admin")
	require.NotNil(t, u.Restriction)
	assert.Equal(t, RestrictionSuspend, u.Restriction.Kind)
	assert.Equal(t, "chargeback review", u.Restriction.Reason)
	require.NotNil(t, u.Restriction.ExpiresAt)
	assert.True(t, expires.Equal(*u.Restriction.ExpiresAt))
	assert.True(t, u.Restriction.Active(time.Now()))
	assert.False(t, u.Restriction.Active(expires.Add(time.Second)))

	require.NoError(t, f.store.SetRestriction(ctx, u.ID, nil))
	assert.Nil(t, f.user(t, "admin").Restriction)

	_, err := f.store.GetUser(ctx, 9999)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(f.store.SetRestriction(ctx, 9999, nil), ErrNotFound))
	assert.True(t, errors.Is(f.store.UpdateUserRoles(ctx, 9999, nil, nil), ErrNotFound))

	err = f.store.CreateUser(ctx, &User{Email: "admin@example.com"})
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestStore_Ping(t *testing.T) {
	store := NewStore(setupTestDB(t))
	assert.NoError(t, store.Ping(context.Background()))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, RunMigrations(context.Background(), db, DriverSQLite))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM rbac_migrations").Scan(&n))
	assert.Equal(t, len(GetMigrations()), n)

	assert.Error(t, RunMigrations(context.Background(), db, "mysql"))
}
