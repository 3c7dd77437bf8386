package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacd/pkg/audit"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(context.Background(), DriverSQLite, ":memory:", PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// fixture is a small seeded world:
//
//	customer     business  10  default  view_products
//	wholesale    business  15           view_products create_products
//	support      admin     20           view_users
//	admin        admin     50  system   view_users ban_users assign_roles
//	super_admin  admin   1000  system   everything
type fixture struct {
	store *Store
	perms map[string]*Permission
	roles map[string]*Role
	users map[string]*User
	sink  *audit.MemorySink
	rec   *audit.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: NewStore(setupTestDB(t)),
		perms: map[string]*Permission{},
		roles: map[string]*Role{},
		users: map[string]*User{},
		sink:  audit.NewMemorySink(),
	}
	f.rec = audit.NewRecorder(f.sink, nil)

	for _, name := range []string{"view_products", "create_products", "view_users", "ban_users", "assign_roles", "manage_permissions"} {
		p := &Permission{Name: name, Category: "test", IsSystem: name == "manage_permissions"}
		require.NoError(t, f.store.CreatePermission(ctx, p))
		f.perms[name] = p
	}

	roleDefs := []struct {
		role  Role
		perms []string
	}{
		{Role{Name: "customer", Type: RoleTypeBusiness, Priority: 10, IsDefault: true, IsSystem: true}, []string{"view_products"}},
		{Role{Name: "wholesale", Type: RoleTypeBusiness, Priority: 15}, []string{"view_products", "create_products"}},
		{Role{Name: "support", Type: RoleTypeAdmin, Priority: 20}, []string{"view_users"}},
		{Role{Name: "admin", Type: RoleTypeAdmin, Priority: 50, IsSystem: true}, []string{"view_users", "ban_users", "assign_roles"}},
		{Role{Name: "super_admin", Type: RoleTypeAdmin, Priority: 1000, IsSystem: true},
			[]string{"view_products", "create_products", "view_users", "ban_users", "assign_roles", "manage_permissions"}},
	}
	for _, def := range roleDefs {
		r := def.role
		require.NoError(t, f.store.CreateRole(ctx, &r))
		f.roles[r.Name] = &r
		for _, pn := range def.perms {
			require.NoError(t, f.store.CreateRolePermission(ctx, &RolePermission{RoleID: r.ID, PermissionID: f.perms[pn].ID}))
		}
	}

	f.addUser(t, "root", "customer", "super_admin")
	f.addUser(t, "admin", "customer", "admin")
	f.addUser(t, "admin2", "customer", "admin")
	f.addUser(t, "support", "customer", "support")
	f.addUser(t, "shopper", "customer", "")
	f.addUser(t, "nobody", "", "")
	return f
}

func (f *fixture) addUser(t *testing.T, name, role, assigned string) *User {
	t.Helper()
	u := &User{Email: name + "@example.com"}
	if role != "" {
		u.RoleID = &f.roles[role].ID
	}
	if assigned != "" {
		u.AssignedRoleID = &f.roles[assigned].ID
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	f.users[name] = u
	return u
}

func (f *fixture) user(t *testing.T, name string) *User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), f.users[name].ID)
	require.NoError(t, err)
	return u
}

func (f *fixture) accounts() *AccountService {
	return NewAccountService(f.store, f.store, f.rec, nil, nil)
}

func idPtr(v int64) *int64 {
	return &v
}
