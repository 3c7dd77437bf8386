package rbac

import (
	"math"
	"time"
)

// RoleType distinguishes customer-facing roles from staff roles
type RoleType string

const (
	RoleTypeBusiness RoleType = "business"
	RoleTypeAdmin    RoleType = "admin"
)

// Valid reports whether t is a known role type
func (t RoleType) Valid() bool {
	return t == RoleTypeBusiness || t == RoleTypeAdmin
}

// Permission is an atomic, named capability such as view_products
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Resource    string    `json:"resource,omitempty"`
	Action      string    `json:"action,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role is a named, ranked bundle of permissions
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        RoleType  `json:"type"`
	Priority    int       `json:"priority"`
	IsDefault   bool      `json:"is_default"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RolePermission links one role to one permission
type RolePermission struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RouteKey identifies a route
type RouteKey struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (k RouteKey) String() string {
	return k.Method + " " + k.Path
}

// Route is a persisted API endpoint and the permission it requires.
// A nil PermissionID means the route is public or unmapped; the public flag
// lives with the host's route metadata, not in storage.
type Route struct {
	ID             int64     `json:"id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	PermissionID   *int64    `json:"permission_id,omitempty"`
	PermissionName string    `json:"permission,omitempty"` // joined, read-only
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Key returns the (method, path) identity of the route
func (r Route) Key() RouteKey {
	return RouteKey{Method: r.Method, Path: r.Path}
}

// RestrictionKind tags an account restriction
type RestrictionKind string

const (
	RestrictionBan     RestrictionKind = "ban"
	RestrictionSuspend RestrictionKind = "suspend"
)

// Restriction is the single ban-or-suspend slot of an account. ExpiresAt is
// only ever set for suspensions.
type Restriction struct {
	Kind      RestrictionKind `json:"kind"`
	Reason    string          `json:"reason"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	ImposedBy int64           `json:"imposed_by"`
	ImposedAt time.Time       `json:"imposed_at"`
}

// Active reports whether the restriction still applies at now
func (r *Restriction) Active(now time.Time) bool {
	if r == nil {
		return false
	}
	return r.ExpiresAt == nil || now.Before(*r.ExpiresAt)
}

// User is the slice of an account the engine reads and mutates
type User struct {
	ID             int64        `json:"id"`
	Email          string       `json:"email"`
	RoleID         *int64       `json:"role_id,omitempty"`
	AssignedRoleID *int64       `json:"assigned_role_id,omitempty"`
	Role           *Role        `json:"role,omitempty"`
	AssignedRole   *Role        `json:"assigned_role,omitempty"`
	Restriction    *Restriction `json:"restriction,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RoleIDs returns the distinct non-nil role ids of the user
func (u *User) RoleIDs() []int64 {
	var ids []int64
	if u.RoleID != nil {
		ids = append(ids, *u.RoleID)
	}
	if u.AssignedRoleID != nil && (u.RoleID == nil || *u.AssignedRoleID != *u.RoleID) {
		ids = append(ids, *u.AssignedRoleID)
	}
	return ids
}

// HoldsRole reports whether either of the user's roles is roleID
func (u *User) HoldsRole(roleID int64) bool {
	return (u.RoleID != nil && *u.RoleID == roleID) ||
		(u.AssignedRoleID != nil && *u.AssignedRoleID == roleID)
}

// Rank is the highest priority a user holds. NoRank is lower than any
// priority, so an actor without roles never wins a comparison.
type Rank int64

// NoRank is the rank of a user without roles
const NoRank Rank = math.MinInt64

// Has reports whether the rank comes from at least one role
func (r Rank) Has() bool {
	return r != NoRank
}

// Value returns the rank for audit metadata, nil when absent
func (r Rank) Value() interface{} {
	if r == NoRank {
		return nil
	}
	return int64(r)
}

// RankOf computes max(priority(role), priority(assignedRole))
func RankOf(u *User) Rank {
	rank := NoRank
	if u == nil {
		return rank
	}
	if u.Role != nil && Rank(u.Role.Priority) > rank {
		rank = Rank(u.Role.Priority)
	}
	if u.AssignedRole != nil && Rank(u.AssignedRole.Priority) > rank {
		rank = Rank(u.AssignedRole.Priority)
	}
	return rank
}
