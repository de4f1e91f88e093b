// Package bytestore turns a plain in-process byte cache (Ristretto, BigCache)
// into a full backend.Backend.
//
// Engines only need Get/Set/Del. Expiry, value kind and set membership travel
// inside a small envelope (internal/wire), so the backend semantics do not
// depend on the engine's own TTL support. Read-modify-write operations are
// serialized per key with striped mutexes.
//
// Like backend/memory, state is per process.
package bytestore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/internal/util"
	"github.com/unkn0wn-root/cachekit/internal/wire"
)

const defaultStripes = 64

// Store is the minimal engine contract. ttl is a hint; engines without
// per-entry TTL may ignore it. Set returns ok=false when the engine refused
// the write.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) (ok bool, err error)
	Del(key string) error
	Reset() error
	Close() error
}

type Config struct {
	// Name identifies the engine in logs. e.g. "ristretto"
	Name string
	// Stripes is the number of key lock stripes. 0 => 64.
	Stripes int
	Now     func() time.Time
	Logger  cachekit.Logger
	Hooks   cachekit.Hooks
}

type Backend struct {
	store Store
	name  string
	locks []sync.Mutex
	now   func() time.Time
	log   cachekit.Logger
	hooks cachekit.Hooks
}

var _ backend.Backend = (*Backend)(nil)

func New(store Store, cfg Config) *Backend {
	stripes := cfg.Stripes
	if stripes <= 0 {
		stripes = defaultStripes
	}
	b := &Backend{
		store: store,
		name:  util.Coalesce(cfg.Name, "bytestore"),
		locks: make([]sync.Mutex, stripes),
		now:   cfg.Now,
		log:   util.Coalesce[cachekit.Logger](cfg.Logger, cachekit.NopLogger{}),
		hooks: util.Coalesce[cachekit.Hooks](cfg.Hooks, cachekit.NopHooks{}),
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *Backend) lock(key string) *sync.Mutex {
	m := &b.locks[xxhash.Sum64String(key)%uint64(len(b.locks))]
	m.Lock()
	return m
}

func deadline(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}

// remaining converts an absolute deadline back into an engine TTL hint.
func remaining(exp int64, now time.Time) time.Duration {
	if exp == 0 {
		return 0
	}
	if d := time.Duration(exp - now.UnixNano()); d > 0 {
		return d
	}
	return time.Millisecond
}

// read returns the live envelope for key. Corrupt and expired entries are
// deleted. Caller must hold the key's stripe.
func (b *Backend) read(key string, now time.Time) (wire.Entry, bool, error) {
	raw, ok, err := b.store.Get(key)
	if err != nil || !ok {
		return wire.Entry{}, false, err
	}
	e, err := wire.DecodeEntry(raw)
	if err != nil {
		b.log.Warn("dropping undecodable entry", cachekit.Fields{"engine": b.name, "key": key})
		return wire.Entry{}, false, b.store.Del(key)
	}
	if e.Expired(now.UnixNano()) {
		return wire.Entry{}, false, b.store.Del(key)
	}
	return e, true, nil
}

func (b *Backend) write(key string, kind byte, exp int64, payload []byte, now time.Time) error {
	ok, err := b.store.Set(key, wire.EncodeEntry(kind, exp, payload), remaining(exp, now))
	if err != nil {
		return err
	}
	if !ok {
		b.log.Debug("write rejected by engine", cachekit.Fields{"engine": b.name, "key": key})
		return backend.ErrRejected
	}
	return nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()

	e, ok, err := b.read(key, now)
	if err != nil || !ok {
		return nil, false, err
	}
	if e.Kind != wire.KindValue {
		return nil, false, backend.ErrWrongKind
	}
	return append([]byte(nil), e.Payload...), true, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()
	return b.write(key, wire.KindValue, deadline(now, ttl), value, now)
}

func (b *Backend) Delete(_ context.Context, key string) error {
	m := b.lock(key)
	defer m.Unlock()
	return b.store.Del(key)
}

func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()
	_, ok, err := b.read(key, now)
	return ok, err
}

// counter reads the integer at key; absent => (0, no deadline).
func (b *Backend) counter(key string, now time.Time) (n int64, exp int64, found bool, err error) {
	e, ok, err := b.read(key, now)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	if e.Kind != wire.KindValue {
		return 0, 0, false, backend.ErrWrongKind
	}
	n, err = strconv.ParseInt(string(e.Payload), 10, 64)
	if err != nil {
		return 0, 0, false, backend.ErrNotInteger
	}
	return n, e.ExpiresAt, true, nil
}

func (b *Backend) Increment(_ context.Context, key string, amount int64) (int64, error) {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()

	n, exp, _, err := b.counter(key, now)
	if err != nil {
		return 0, err
	}
	n += amount
	if err := b.write(key, wire.KindValue, exp, strconv.AppendInt(nil, n, 10), now); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Backend) IncrementBelow(_ context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()

	n, exp, _, err := b.counter(key, now)
	if err != nil {
		return 0, false, err
	}
	if n >= limit {
		return n, false, nil
	}
	n++
	if n == 1 {
		exp = deadline(now, ttl)
	}
	if err := b.write(key, wire.KindValue, exp, strconv.AppendInt(nil, n, 10), now); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (b *Backend) Expire(_ context.Context, key string, ttl time.Duration) error {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()

	e, ok, err := b.read(key, now)
	if err != nil || !ok {
		return err
	}
	// payload aliases the engine's buffer; copy before re-encoding
	payload := append([]byte(nil), e.Payload...)
	return b.write(key, e.Kind, deadline(now, ttl), payload, now)
}

func (b *Backend) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()

	members, err := b.members(key, now)
	if err != nil {
		return err
	}
	found := false
	for _, mm := range members {
		if mm == member {
			found = true
			break
		}
	}
	if !found {
		members = append(members, member)
	}
	payload, err := wire.EncodeMembers(members)
	if err != nil {
		return err
	}
	return b.write(key, wire.KindSet, deadline(now, ttl), payload, now)
}

func (b *Backend) members(key string, now time.Time) ([]string, error) {
	e, ok, err := b.read(key, now)
	if err != nil || !ok {
		return nil, err
	}
	if e.Kind != wire.KindSet {
		return nil, backend.ErrWrongKind
	}
	members, err := wire.DecodeMembers(e.Payload)
	if err != nil {
		if errors.Is(err, wire.ErrCorrupt) {
			b.log.Warn("dropping undecodable set", cachekit.Fields{"engine": b.name, "key": key})
			return nil, b.store.Del(key)
		}
		return nil, err
	}
	return members, nil
}

func (b *Backend) Members(_ context.Context, key string) ([]string, error) {
	now := b.now()
	m := b.lock(key)
	defer m.Unlock()
	return b.members(key, now)
}

func (b *Backend) Clear(_ context.Context) error {
	return b.store.Reset()
}

func (b *Backend) Close(_ context.Context) error {
	return b.store.Close()
}
