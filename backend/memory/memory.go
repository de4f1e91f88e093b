// Package memory is the in-process backend: a mutex-guarded map with lazy
// expiry on read and a periodic sweep.
//
// State lives in this process only. Two replicas each running a Memory
// backend keep separate caches and separate rate-limit counters, so a limit of
// N per window becomes N per window per replica. Use backend/redis when more
// than one process serves the same traffic.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/internal/util"
)

// DefaultSweepInterval is used when Config.SweepInterval is zero.
const DefaultSweepInterval = time.Minute

type entry struct {
	value     []byte
	members   []string
	isSet     bool
	expiresAt time.Time // zero => no TTL
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type Config struct {
	// SweepInterval between expiry sweeps. 0 => DefaultSweepInterval; < 0 disables the sweep.
	SweepInterval time.Duration
	// Now is the clock used for TTLs. nil => time.Now.
	Now    func() time.Time
	Logger cachekit.Logger
	Hooks  cachekit.Hooks
}

type Memory struct {
	mu sync.Mutex
	m  map[string]*entry

	now   func() time.Time
	log   cachekit.Logger
	hooks cachekit.Hooks

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ backend.Backend = (*Memory)(nil)

func New(cfg Config) *Memory {
	b := &Memory{
		m:     make(map[string]*entry),
		now:   cfg.Now,
		log:   util.Coalesce[cachekit.Logger](cfg.Logger, cachekit.NopLogger{}),
		hooks: util.Coalesce[cachekit.Hooks](cfg.Hooks, cachekit.NopHooks{}),
	}
	if b.now == nil {
		b.now = time.Now
	}

	interval := util.Coalesce(cfg.SweepInterval, DefaultSweepInterval)
	if interval > 0 {
		b.ticker = time.NewTicker(interval)
		b.stopCh = make(chan struct{})
		b.wg.Add(1)
		go b.sweepLoop()
	}
	return b
}

func (b *Memory) sweepLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			b.Sweep()
		case <-b.stopCh:
			return
		}
	}
}

// Sweep removes every expired entry and returns how many were dropped.
func (b *Memory) Sweep() int {
	now := b.now()
	removed := 0
	b.mu.Lock()
	for k, e := range b.m {
		if e.expired(now) {
			delete(b.m, k)
			removed++
		}
	}
	b.mu.Unlock()

	b.hooks.SweepCompleted(removed)
	if removed > 0 {
		b.log.Debug("memory sweep removed expired entries", cachekit.Fields{"removed": removed})
	}
	return removed
}

// Len reports the number of stored entries, expired ones included.
func (b *Memory) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// lookup returns the live entry for key. Expired entries are deleted.
// Caller must hold b.mu.
func (b *Memory) lookup(key string, now time.Time) (*entry, bool) {
	e, ok := b.m[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		delete(b.m, key)
		return nil, false
	}
	return e, true
}

func (b *Memory) deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (b *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(key, b.now())
	if !ok {
		return nil, false, nil
	}
	if e.isSet {
		return nil, false, backend.ErrWrongKind
	}
	return append([]byte(nil), e.value...), true, nil
}

func (b *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := b.now()
	cp := append([]byte(nil), value...)
	b.mu.Lock()
	b.m[key] = &entry{value: cp, expiresAt: b.deadline(now, ttl)}
	b.mu.Unlock()
	return nil
}

func (b *Memory) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.m, key)
	b.mu.Unlock()
	return nil
}

func (b *Memory) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.lookup(key, b.now())
	return ok, nil
}

// counter parses the live integer at key. Caller must hold b.mu.
func (b *Memory) counter(key string, now time.Time) (*entry, int64, error) {
	e, ok := b.lookup(key, now)
	if !ok {
		return nil, 0, nil
	}
	if e.isSet {
		return nil, 0, backend.ErrWrongKind
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return nil, 0, backend.ErrNotInteger
	}
	return e, n, nil
}

func (b *Memory) Increment(_ context.Context, key string, amount int64) (int64, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	e, n, err := b.counter(key, now)
	if err != nil {
		return 0, err
	}
	n += amount
	if e == nil {
		b.m[key] = &entry{value: strconv.AppendInt(nil, n, 10)}
		return n, nil
	}
	e.value = strconv.AppendInt(nil, n, 10)
	return n, nil
}

func (b *Memory) IncrementBelow(_ context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	e, n, err := b.counter(key, now)
	if err != nil {
		return 0, false, err
	}
	if n >= limit {
		return n, false, nil
	}
	n++
	if e == nil {
		e = &entry{}
		b.m[key] = e
	}
	e.value = strconv.AppendInt(nil, n, 10)
	if n == 1 {
		e.expiresAt = b.deadline(now, ttl)
	}
	return n, true, nil
}

func (b *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.lookup(key, now); ok {
		e.expiresAt = b.deadline(now, ttl)
	}
	return nil
}

func (b *Memory) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lookup(key, now)
	if !ok {
		b.m[key] = &entry{isSet: true, members: []string{member}, expiresAt: b.deadline(now, ttl)}
		return nil
	}
	if !e.isSet {
		return backend.ErrWrongKind
	}
	e.expiresAt = b.deadline(now, ttl)
	for _, m := range e.members {
		if m == member {
			return nil
		}
	}
	e.members = append(e.members, member)
	return nil
}

func (b *Memory) Members(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(key, b.now())
	if !ok {
		return nil, nil
	}
	if !e.isSet {
		return nil, backend.ErrWrongKind
	}
	return append([]string(nil), e.members...), nil
}

func (b *Memory) Clear(_ context.Context) error {
	b.mu.Lock()
	b.m = make(map[string]*entry)
	b.mu.Unlock()
	return nil
}

// Close stops the sweep goroutine. Safe to call multiple times. The map stays
// usable; only background expiry stops.
func (b *Memory) Close(_ context.Context) error {
	b.closeOnce.Do(func() {
		if b.stopCh != nil {
			b.ticker.Stop()
			close(b.stopCh)
			b.wg.Wait()
		}
	})
	return nil
}
