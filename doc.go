// Package cachekit is a backend-agnostic caching layer: a query cache with
// tag invalidation and fixed-window rate limiting over a shared key-value
// store with TTL.
//
// Components:
//   - backend.Backend: byte store with TTL, atomic counters and sets
//     (backend/memory, backend/ristretto, backend/bigcache, backend/redis).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - QueryCache[V]: memoizes producer results, grouped by tag.
//   - ratelimit.Limiter: fixed window counter with a block period.
//   - factory.Factory: picks Redis or an in-process engine from config.
//
// Keys:
//
//	<prefix>:<key>             - query results (default prefix "cache")
//	cache:tag:<tag>            - set of query keys carrying tag
//	<prefix>:count:<id>        - rate limit window counter
//	<prefix>:block:<id>        - rate limit block marker
//
// Remember pattern:
//
//	users, _, err := qc.Remember(ctx, "users:active", func(ctx context.Context) ([]User, bool, error) {
//		u, err := db.ActiveUsers(ctx)
//		return u, len(u) > 0, err
//	}, cachekit.RememberOptions{TTL: time.Minute, Tags: []string{"users"}})
//
//	_ = qc.InvalidateByTag(ctx, "users") // after a write to users
//
// In-process engines keep state per process. Rate limits and invalidations
// only hold across instances when every instance shares the Redis backend.
package cachekit
