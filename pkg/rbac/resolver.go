package rbac

import (
	"context"
	"sort"
)

// Resolver computes effective permissions: the union of the permissions
// granted by a user's business role and assigned admin role
type Resolver struct {
	store AccessStore
	cache PermissionCache
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(store AccessStore, cache PermissionCache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Permissions returns the sorted, deduplicated permission names of u
func (r *Resolver) Permissions(ctx context.Context, u *User) ([]string, error) {
	if u == nil {
		return []string{}, nil
	}
	return r.PermissionsForRoles(ctx, u.RoleIDs()...)
}

// PermissionsForRoles returns the sorted union of the permissions of the
// given roles. Duplicate ids are ignored.
func (r *Resolver) PermissionsForRoles(ctx context.Context, roleIDs ...int64) ([]string, error) {
	ids := distinct(roleIDs)
	if len(ids) == 0 {
		return []string{}, nil
	}

	if r.cache != nil {
		if names, ok := r.cache.Get(ctx, ids); ok {
			return names, nil
		}
	}

	names, err := r.store.PermissionNamesForRoles(ctx, ids...)
	if err != nil {
		return nil, err
	}
	names = union(names)

	if r.cache != nil {
		r.cache.Set(ctx, ids, names)
	}
	return names, nil
}

// Has reports whether u holds permission
func (r *Resolver) Has(ctx context.Context, u *User, permission string) (bool, error) {
	names, err := r.Permissions(ctx, u)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(names, permission)
	return i < len(names) && names[i] == permission, nil
}

func distinct(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// union sorts and deduplicates names
func union(sets ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, set := range sets {
		for _, n := range set {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out
}
