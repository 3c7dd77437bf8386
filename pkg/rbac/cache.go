package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/rbacd/pkg/events"
	"github.com/platinummonkey/rbacd/pkg/observability"
)

// PermissionCache caches resolved permission names per role combination.
// Role membership only changes when catalogs are reseeded, so entries are
// keyed by role ids and never by user.
type PermissionCache interface {
	Get(ctx context.Context, roleIDs []int64) ([]string, bool)
	Set(ctx context.Context, roleIDs []int64, names []string)
	Invalidate(ctx context.Context) error
}

const permissionKeyPrefix = "rbac:perms:"

// PermissionCacheKey returns the cache key for a role combination, e.g.
// rbac:perms:3:7. Order of ids does not matter.
func PermissionCacheKey(roleIDs []int64) string {
	ids := make([]int64, len(roleIDs))
	copy(ids, roleIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return permissionKeyPrefix + strings.Join(parts, ":")
}

// RedisPermissionCache shares resolved permissions between instances
type RedisPermissionCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedisClient parses url and pings the server
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisPermissionCache creates a cache over client. metrics may be nil.
func NewRedisPermissionCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RedisPermissionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPermissionCache{client: client, ttl: ttl, metrics: metrics}
}

// Get returns cached names. Redis errors and corrupt values count as misses.
func (c *RedisPermissionCache) Get(ctx context.Context, roleIDs []int64) ([]string, bool) {
	key := PermissionCacheKey(roleIDs)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			observability.FromContext(ctx).WithError(err).Warn("permission cache read failed")
		}
		c.metrics.CacheMiss("permissions")
		return nil, false
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		c.client.Del(ctx, key)
		c.metrics.CacheMiss("permissions")
		return nil, false
	}
	c.metrics.CacheHit("permissions")
	return names, true
}

// Set stores names with the configured TTL
func (c *RedisPermissionCache) Set(ctx context.Context, roleIDs []int64, names []string) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, PermissionCacheKey(roleIDs), data, c.ttl).Err(); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("permission cache write failed")
	}
}

// Invalidate removes every cached combination
func (c *RedisPermissionCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, permissionKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan permission cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}

// Requirement is the stored permission requirement of a route
type Requirement struct {
	Route RouteKey
	// Known is false when the route has never been seeded
	Known bool
	// Permission is empty for public or unmapped routes
	Permission string
}

// RouteRequirements looks up route requirements through a bounded,
// expiring in-process cache
type RouteRequirements struct {
	store   AccessStore
	cache   *lru.LRU[RouteKey, Requirement]
	metrics *observability.Metrics
}

// NewRouteRequirements creates a lookup caching up to size routes for ttl
func NewRouteRequirements(store AccessStore, size int, ttl time.Duration, metrics *observability.Metrics) *RouteRequirements {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RouteRequirements{
		store:   store,
		cache:   lru.NewLRU[RouteKey, Requirement](size, nil, ttl),
		metrics: metrics,
	}
}

// Lookup returns the requirement of key. Unknown routes are cached too.
func (rr *RouteRequirements) Lookup(ctx context.Context, key RouteKey) (Requirement, error) {
	if req, ok := rr.cache.Get(key); ok {
		rr.metrics.CacheHit("routes")
		return req, nil
	}
	rr.metrics.CacheMiss("routes")

	req := Requirement{Route: key}
	route, err := rr.store.GetRoute(ctx, key)
	switch {
	case err == nil:
		req.Known = true
		req.Permission = route.PermissionName
	case KindOf(err) == KindNotFound:
	default:
		return Requirement{}, err
	}

	rr.cache.Add(key, req)
	return req, nil
}

// Purge drops every cached requirement
func (rr *RouteRequirements) Purge() {
	rr.cache.Purge()
}

// Len returns the number of cached requirements
func (rr *RouteRequirements) Len() int {
	return rr.cache.Len()
}

// CacheInvalidator returns an events handler that drops cached data made
// stale by reseeding
func CacheInvalidator(perms PermissionCache, routes *RouteRequirements) events.Handler {
	return func(ctx context.Context, e events.Event) {
		switch e.Kind {
		case events.CatalogReseeded, events.PermissionDeleted:
			if perms != nil {
				if err := perms.Invalidate(ctx); err != nil {
					observability.FromContext(ctx).WithError(err).Warn("failed to invalidate permission cache")
				}
			}
			if routes != nil {
				routes.Purge()
			}
		case events.RoutesReseeded:
			if routes != nil {
				routes.Purge()
			}
		}
	}
}
