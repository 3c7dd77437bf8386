package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AccessStore persists permissions, roles, role links and routes.
// Every create is expected to be preceded by an existence check; a unique
// violation that slips through surfaces as KindConflict.
type AccessStore interface {
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id int64) error

	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error

	RolePermissionExists(ctx context.Context, roleID, permissionID int64) (bool, error)
	CreateRolePermission(ctx context.Context, rp *RolePermission) error
	PermissionNamesForRoles(ctx context.Context, roleIDs ...int64) ([]string, error)

	GetRoute(ctx context.Context, key RouteKey) (*Route, error)
	ListRoutes(ctx context.Context) ([]Route, error)
	CreateRoute(ctx context.Context, r *Route) error
	UpdateRoute(ctx context.Context, r *Route) error
	DuplicateRoutes(ctx context.Context) ([]RouteKey, error)

	CountPermissionsByCategory(ctx context.Context) (map[string]int, error)
	CountRolesByType(ctx context.Context) (map[RoleType]int, error)
	CountRolePermissions(ctx context.Context) (int, error)

	DeleteAllRolePermissions(ctx context.Context) (int64, error)
	DeleteAllPermissions(ctx context.Context) (int64, error)
	DeleteAllRoles(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
}

// UserStore reads accounts and writes the two fields the engine owns:
// role assignment and the ban/suspend restriction.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	UpdateUserRoles(ctx context.Context, userID int64, roleID, assignedRoleID *int64) error
	SetRestriction(ctx context.Context, userID int64, r *Restriction) error
}

// Store is the SQL implementation of AccessStore and UserStore
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new store over db
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return internal("store unreachable", err)
	}
	return nil
}

const permissionColumns = `id, name, description, category, resource, action, is_system, created_at, updated_at`

func scanPermission(scanner interface{ Scan(dest ...interface{}) error }) (*Permission, error) {
	var p Permission
	var resource, action sql.NullString
	if err := scanner.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &resource, &action, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Resource = resource.String
	p.Action = action.String
	return &p, nil
}

// GetPermissionByName retrieves a permission by its unique name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("permission %s not found", name)
	}
	if err != nil {
		return nil, translate("get permission", err)
	}
	return p, nil
}

// ListPermissions lists all permissions ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name ASC`)
	if err != nil {
		return nil, translate("list permissions", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, translate("scan permission", err)
		}
		out = append(out, *p)
	}
	return out, translate("list permissions", rows.Err())
}

// CreatePermission inserts a permission
func (s *Store) CreatePermission(ctx context.Context, p *Permission) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, description, category, resource, action, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		p.Name, p.Description, p.Category, nullString(p.Resource), nullString(p.Action), p.IsSystem, now, now,
	).Scan(&p.ID)
	if err != nil {
		return translate("create permission "+p.Name, err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// UpdatePermission updates the mutable attributes of a permission. The name
// is immutable.
func (s *Store) UpdatePermission(ctx context.Context, p *Permission) error {
	p.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE permissions
		SET description = $1, category = $2, resource = $3, action = $4, is_system = $5, updated_at = $6
		WHERE id = $7`,
		p.Description, p.Category, nullString(p.Resource), nullString(p.Action), p.IsSystem, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return translate("update permission "+p.Name, err)
	}
	return expectAffected(res, "permission %d not found", p.ID)
}

// DeletePermission deletes a permission unless it is a system permission
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	var name string
	var isSystem bool
	err := s.db.QueryRowContext(ctx, `SELECT name, is_system FROM permissions WHERE id = $1`, id).Scan(&name, &isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("permission %d not found", id)
	}
	if err != nil {
		return translate("get permission", err)
	}
	if isSystem {
		return forbidden("system permissions cannot be deleted")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id); err != nil {
		return translate("delete permission "+name, err)
	}
	return nil
}

const roleColumns = `id, name, description, type, priority, is_default, is_system, created_at, updated_at`

func scanRole(scanner interface{ Scan(dest ...interface{}) error }) (*Role, error) {
	var r Role
	var roleType string
	if err := scanner.Scan(&r.ID, &r.Name, &r.Description, &roleType, &r.Priority, &r.IsDefault, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Type = RoleType(roleType)
	return &r, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role %d not found", id)
	}
	if err != nil {
		return nil, translate("get role", err)
	}
	return r, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role %s not found", name)
	}
	if err != nil {
		return nil, translate("get role", err)
	}
	return r, nil
}

// ListRoles lists all roles, highest priority first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, translate("list roles", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, translate("scan role", err)
		}
		out = append(out, *r)
	}
	return out, translate("list roles", rows.Err())
}

// CreateRole inserts a role
func (s *Store) CreateRole(ctx context.Context, r *Role) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, type, priority, is_default, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		r.Name, r.Description, string(r.Type), r.Priority, r.IsDefault, r.IsSystem, now, now,
	).Scan(&r.ID)
	if err != nil {
		return translate("create role "+r.Name, err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// UpdateRole updates a role's attributes
func (s *Store) UpdateRole(ctx context.Context, r *Role) error {
	r.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles
		SET description = $1, type = $2, priority = $3, is_default = $4, is_system = $5, updated_at = $6
		WHERE id = $7`,
		r.Description, string(r.Type), r.Priority, r.IsDefault, r.IsSystem, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return translate("update role "+r.Name, err)
	}
	return expectAffected(res, "role %d not found", r.ID)
}

// RolePermissionExists reports whether the (role, permission) link exists
func (s *Store) RolePermissionExists(ctx context.Context, roleID, permissionID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID,
	).Scan(&n)
	if err != nil {
		return false, translate("check role permission", err)
	}
	return n > 0, nil
}

// CreateRolePermission inserts a (role, permission) link
func (s *Store) CreateRolePermission(ctx context.Context, rp *RolePermission) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`,
		rp.RoleID, rp.PermissionID, now,
	).Scan(&rp.ID)
	if err != nil {
		return translate("link role permission", err)
	}
	rp.CreatedAt = now
	return nil
}

// PermissionNamesForRoles returns the distinct permission names granted by
// any of the given roles, sorted
func (s *Store) PermissionNamesForRoles(ctx context.Context, roleIDs ...int64) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY p.name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate("list role permissions", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, translate("scan permission name", err)
		}
		names = append(names, name)
	}
	return names, translate("list role permissions", rows.Err())
}

const routeSelect = `
	SELECT r.id, r.method, r.path, r.permission_id, p.name, r.created_at, r.updated_at
	FROM routes r
	LEFT JOIN permissions p ON p.id = r.permission_id`

func scanRoute(scanner interface{ Scan(dest ...interface{}) error }) (*Route, error) {
	var r Route
	var permissionID sql.NullInt64
	var permissionName sql.NullString
	if err := scanner.Scan(&r.ID, &r.Method, &r.Path, &permissionID, &permissionName, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if permissionID.Valid {
		id := permissionID.Int64
		r.PermissionID = &id
	}
	r.PermissionName = permissionName.String
	return &r, nil
}

// GetRoute retrieves a route by (method, path)
func (s *Store) GetRoute(ctx context.Context, key RouteKey) (*Route, error) {
	r, err := scanRoute(s.db.QueryRowContext(ctx, routeSelect+` WHERE r.method = $1 AND r.path = $2`, key.Method, key.Path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("route %s not found", key)
	}
	if err != nil {
		return nil, translate("get route", err)
	}
	return r, nil
}

// ListRoutes lists all persisted routes ordered by path then method
func (s *Store) ListRoutes(ctx context.Context) ([]Route, error) {
	rows, err := s.db.QueryContext(ctx, routeSelect+` ORDER BY r.path ASC, r.method ASC`)
	if err != nil {
		return nil, translate("list routes", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, translate("scan route", err)
		}
		out = append(out, *r)
	}
	return out, translate("list routes", rows.Err())
}

// CreateRoute inserts a route
func (s *Store) CreateRoute(ctx context.Context, r *Route) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO routes (method, path, permission_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		r.Method, r.Path, nullInt64(r.PermissionID), now, now,
	).Scan(&r.ID)
	if err != nil {
		return translate("create route "+r.Key().String(), err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// UpdateRoute updates the permission of a route
func (s *Store) UpdateRoute(ctx context.Context, r *Route) error {
	r.UpdatedAt = s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE routes SET permission_id = $1, updated_at = $2 WHERE id = $3`,
		nullInt64(r.PermissionID), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return translate("update route "+r.Key().String(), err)
	}
	return expectAffected(res, "route %d not found", r.ID)
}

// DuplicateRoutes returns (method, path) pairs stored more than once
func (s *Store) DuplicateRoutes(ctx context.Context) ([]RouteKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT method, path FROM routes
		GROUP BY method, path
		HAVING COUNT(*) > 1
		ORDER BY path ASC, method ASC`)
	if err != nil {
		return nil, translate("find duplicate routes", err)
	}
	defer rows.Close()

	var out []RouteKey
	for rows.Next() {
		var k RouteKey
		if err := rows.Scan(&k.Method, &k.Path); err != nil {
			return nil, translate("scan route key", err)
		}
		out = append(out, k)
	}
	return out, translate("find duplicate routes", rows.Err())
}

// CountPermissionsByCategory counts permissions per category
func (s *Store) CountPermissionsByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM permissions GROUP BY category`)
	if err != nil {
		return nil, translate("count permissions", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, translate("scan permission count", err)
		}
		out[category] = n
	}
	return out, translate("count permissions", rows.Err())
}

// CountRolesByType counts roles per type
func (s *Store) CountRolesByType(ctx context.Context) (map[RoleType]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM roles GROUP BY type`)
	if err != nil {
		return nil, translate("count roles", err)
	}
	defer rows.Close()

	out := make(map[RoleType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, translate("scan role count", err)
		}
		out[RoleType(t)] = n
	}
	return out, translate("count roles", rows.Err())
}

// CountRolePermissions counts role-permission links
func (s *Store) CountRolePermissions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_permissions`).Scan(&n); err != nil {
		return 0, translate("count role permissions", err)
	}
	return n, nil
}

// DeleteAllRolePermissions removes every role-permission link
func (s *Store) DeleteAllRolePermissions(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, "role_permissions")
}

// DeleteAllPermissions removes every permission, system ones included.
// Routes referencing them fall back to a null permission.
func (s *Store) DeleteAllPermissions(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, "permissions")
}

// DeleteAllRoles removes every role
func (s *Store) DeleteAllRoles(ctx context.Context) (int64, error) {
	return s.deleteAll(ctx, "roles")
}

func (s *Store) deleteAll(ctx context.Context, table string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table)
	if err != nil {
		return 0, translate("delete "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate("delete "+table, err)
	}
	return n, nil
}

// GetUser loads a user with both roles resolved
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	var roleID, assignedRoleID, restrictedBy sql.NullInt64
	var kind, reason sql.NullString
	var expiresAt, restrictedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, role_id, assigned_role_id,
		       restriction_kind, restriction_reason, restriction_expires_at, restricted_by, restricted_at,
		       created_at, updated_at
		FROM users
		WHERE id = $1`, id,
	).Scan(
		&u.ID, &u.Email, &roleID, &assignedRoleID,
		&kind, &reason, &expiresAt, &restrictedBy, &restrictedAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user %d not found", id)
	}
	if err != nil {
		return nil, translate("get user", err)
	}

	if kind.Valid && kind.String != "" {
		u.Restriction = &Restriction{
			Kind:      RestrictionKind(kind.String),
			Reason:    reason.String,
			ImposedBy: restrictedBy.Int64,
			ImposedAt: restrictedAt.Time,
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			u.Restriction.ExpiresAt = &t
		}
	}

	if roleID.Valid {
		rid := roleID.Int64
		u.RoleID = &rid
		if u.Role, err = s.GetRole(ctx, rid); err != nil {
			return nil, err
		}
	}
	if assignedRoleID.Valid {
		aid := assignedRoleID.Int64
		u.AssignedRoleID = &aid
		if u.AssignedRole, err = s.GetRole(ctx, aid); err != nil {
			return nil, err
		}
	}

	return &u, nil
}

// CreateUser inserts a user. Accounts are owned elsewhere; this exists for
// bootstrap tooling and tests.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, role_id, assigned_role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		u.Email, nullInt64(u.RoleID), nullInt64(u.AssignedRoleID), now, now,
	).Scan(&u.ID)
	if err != nil {
		return translate("create user "+u.Email, err)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// UpdateUserRoles writes both role references of a user
func (s *Store) UpdateUserRoles(ctx context.Context, userID int64, roleID, assignedRoleID *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role_id = $1, assigned_role_id = $2, updated_at = $3 WHERE id = $4`,
		nullInt64(roleID), nullInt64(assignedRoleID), s.now().UTC(), userID,
	)
	if err != nil {
		return translate("update user roles", err)
	}
	return expectAffected(res, "user %d not found", userID)
}

// SetRestriction writes or clears (r == nil) the account restriction
func (s *Store) SetRestriction(ctx context.Context, userID int64, r *Restriction) error {
	var kind, reason sql.NullString
	var expiresAt, imposedAt sql.NullTime
	var imposedBy sql.NullInt64
	if r != nil {
		kind = sql.NullString{String: string(r.Kind), Valid: true}
		reason = sql.NullString{String: r.Reason, Valid: true}
		imposedBy = sql.NullInt64{Int64: r.ImposedBy, Valid: true}
		imposedAt = sql.NullTime{Time: r.ImposedAt.UTC(), Valid: true}
		if r.ExpiresAt != nil {
			expiresAt = sql.NullTime{Time: r.ExpiresAt.UTC(), Valid: true}
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET restriction_kind = $1, restriction_reason = $2, restriction_expires_at = $3,
		    restricted_by = $4, restricted_at = $5, updated_at = $6
		WHERE id = $7`,
		kind, reason, expiresAt, imposedBy, imposedAt, s.now().UTC(), userID,
	)
	if err != nil {
		return translate("update user restriction", err)
	}
	return expectAffected(res, "user %d not found", userID)
}

func expectAffected(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return internal("failed to read affected rows", err)
	}
	if n == 0 {
		return notFound(format, args...)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
