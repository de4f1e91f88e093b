package cachekit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/codec"
	"github.com/unkn0wn-root/cachekit/internal/util"
)

const (
	DefaultQueryTTL = 5 * time.Minute
	DefaultTagTTL   = 24 * time.Hour
)

// Producer computes the value for a cache miss. Return found=false for "no
// result": nothing is cached and Remember reports found=false.
type Producer[V any] func(ctx context.Context) (v V, found bool, err error)

// QueryOptions configure a QueryCache. Backend and Codec are required.
type QueryOptions[V any] struct {
	Backend backend.Backend
	Codec   codec.Codec[V]

	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // 0 => 5m
	TagTTL     time.Duration // 0 => 24h
	Disabled   bool          // Remember always calls the producer

	// DisableSingleflight lets concurrent misses on one key each run the
	// producer. By default they share a single call and its result: the
	// shared producer is not cancelled when the first caller's ctx ends, and
	// the first caller's TTL applies. Each caller still registers its own tags.
	DisableSingleflight bool
}

// RememberOptions are per call.
type RememberOptions struct {
	TTL       time.Duration // 0 => QueryOptions.DefaultTTL
	KeyPrefix string        // "" => "cache"
	Tags      []string
}

// QueryCache memoizes producer results under "<prefix>:<key>" and groups keys
// by tag for bulk invalidation.
//
// Backend failures never fail a Remember: reads degrade to a miss and writes
// are skipped, both logged. Producer errors are returned unchanged.
type QueryCache[V any] struct {
	b          backend.Backend
	codec      codec.Codec[V]
	log        Logger
	hooks      Hooks
	defaultTTL time.Duration
	tagTTL     time.Duration
	enabled    bool
	dedupe     bool
	group      singleflight.Group
}

type filled[V any] struct {
	v      V
	found  bool
	cached bool
}

func NewQueryCache[V any](opts QueryOptions[V]) (*QueryCache[V], error) {
	if opts.Backend == nil {
		return nil, &ConfigurationError{Component: "query cache", Reason: "backend is required"}
	}
	if opts.Codec == nil {
		return nil, &ConfigurationError{Component: "query cache", Reason: "codec is required"}
	}
	return &QueryCache[V]{
		b:          opts.Backend,
		codec:      opts.Codec,
		log:        util.Coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      util.Coalesce[Hooks](opts.Hooks, NopHooks{}),
		defaultTTL: util.Coalesce(opts.DefaultTTL, DefaultQueryTTL),
		tagTTL:     util.Coalesce(opts.TagTTL, DefaultTagTTL),
		enabled:    !opts.Disabled,
		dedupe:     !opts.DisableSingleflight,
	}, nil
}

func (q *QueryCache[V]) Enabled() bool { return q.enabled }

// CacheKey returns the backend key Remember uses for key under prefix.
func CacheKey(prefix, key string) string { return util.CacheKey(prefix, key) }

// Remember returns the cached value for key, or runs produce on a miss and
// caches a found result for opts.TTL, registering it under every tag.
func (q *QueryCache[V]) Remember(ctx context.Context, key string, produce Producer[V], opts RememberOptions) (V, bool, error) {
	if !q.enabled {
		return produce(ctx)
	}
	ck := util.CacheKey(opts.KeyPrefix, key)

	if v, ok := q.lookup(ctx, ck); ok {
		q.hooks.QueryHit(ck)
		return v, true, nil
	}
	q.hooks.QueryMiss(ck)

	if !q.dedupe {
		v, found, cached, err := q.fill(ctx, ck, produce, opts.TTL)
		if cached {
			q.tag(ctx, ck, opts.Tags)
		}
		return v, found, err
	}

	// The shared call outlives any single caller: it runs detached from the
	// leader's cancellation, and every caller waits on its own ctx.
	ch := q.group.DoChan(ck, func() (any, error) {
		sctx := context.WithoutCancel(ctx)
		// a caller that missed just before another filled the key lands here
		if v, ok := q.lookup(sctx, ck); ok {
			return filled[V]{v: v, found: true, cached: true}, nil
		}
		v, found, cached, err := q.fill(sctx, ck, produce, opts.TTL)
		return filled[V]{v: v, found: found, cached: cached}, err
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, false, r.Err
		}
		f := r.Val.(filled[V])
		// tags are per caller; the leader's TTL applies to the shared value
		if f.cached {
			q.tag(ctx, ck, opts.Tags)
		}
		return f.v, f.found, nil
	}
}

func (q *QueryCache[V]) lookup(ctx context.Context, ck string) (V, bool) {
	var zero V
	raw, ok, err := q.b.Get(ctx, ck)
	if err != nil {
		q.log.Warn("query cache read failed, treating as miss", Fields{"key": ck, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := q.codec.Decode(raw)
	if err != nil {
		_ = q.b.Delete(ctx, ck)
		q.hooks.SelfHeal(ck, "value_decode")
		q.log.Debug("dropped undecodable cache entry", Fields{"key": ck, "err": err})
		return zero, false
	}
	return v, true
}

// fill runs produce and stores a found result. cached reports whether the
// value is now in the backend.
func (q *QueryCache[V]) fill(ctx context.Context, ck string, produce Producer[V], ttl time.Duration) (v V, found, cached bool, err error) {
	v, found, err = produce(ctx)
	if err != nil {
		q.hooks.ProducerFailed(ck, err)
		var zero V
		return zero, false, false, err
	}
	if !found {
		return v, false, false, nil
	}

	raw, err := q.codec.Encode(v)
	if err != nil {
		q.log.Warn("query cache encode failed, result not cached", Fields{"key": ck, "err": err})
		return v, true, false, nil
	}
	if err := q.b.Set(ctx, ck, raw, util.Coalesce(ttl, q.defaultTTL)); err != nil {
		q.log.Warn("query cache write failed, result not cached", Fields{"key": ck, "err": err})
		return v, true, false, nil
	}
	return v, true, true, nil
}

// tag registers ck under every tag. Failures are logged; the value stays.
func (q *QueryCache[V]) tag(ctx context.Context, ck string, tags []string) {
	for _, tag := range tags {
		if err := q.b.AddToSet(ctx, util.TagKey(tag), ck, q.tagTTL); err != nil {
			q.hooks.TagIndexError(tag, ck, err)
			q.log.Warn("tag index update failed", Fields{"key": ck, "tag": tag, "err": err})
		}
	}
}

// Invalidate deletes the single entry for key under keyPrefix ("" => "cache").
func (q *QueryCache[V]) Invalidate(ctx context.Context, key, keyPrefix string) error {
	ck := util.CacheKey(keyPrefix, key)
	if err := q.b.Delete(ctx, ck); err != nil {
		return fmt.Errorf("invalidate %q: %w", ck, err)
	}
	return nil
}

// InvalidateByTag deletes every key registered under tag, then the tag set.
func (q *QueryCache[V]) InvalidateByTag(ctx context.Context, tag string) error {
	n, err := InvalidateTag(ctx, q.b, tag)
	if err != nil {
		q.log.Error("tag invalidation incomplete", Fields{"tag": tag, "deleted": n, "err": err})
		return err
	}
	q.hooks.TagInvalidated(tag, n)
	q.log.Debug("tag invalidated", Fields{"tag": tag, "deleted": n})
	return nil
}

// Clear wipes the whole backend, not just this cache's keys.
func (q *QueryCache[V]) Clear(ctx context.Context) error {
	return q.b.Clear(ctx)
}
