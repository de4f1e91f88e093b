// Package asynchook moves hook calls off the hot path onto a bounded queue.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{QueryEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	qc, _ := cachekit.NewQueryCache(cachekit.QueryOptions[User]{
//	    Backend: b,
//	    Codec:   codec.JSON[User]{},
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped, and counted, when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachekit"
)

type Hooks struct {
	inner   cachekit.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ cachekit.Hooks = (*Hooks)(nil)

func New(inner cachekit.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full or
// the hooks were closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) QueryHit(k string)  { h.try(func() { h.inner.QueryHit(k) }) }
func (h *Hooks) QueryMiss(k string) { h.try(func() { h.inner.QueryMiss(k) }) }
func (h *Hooks) ProducerFailed(k string, err error) {
	h.try(func() { h.inner.ProducerFailed(k, err) })
}
func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) BackendError(op, k string, err error) {
	h.try(func() { h.inner.BackendError(op, k, err) })
}
func (h *Hooks) TagIndexError(tag, k string, err error) {
	h.try(func() { h.inner.TagIndexError(tag, k, err) })
}
func (h *Hooks) TagInvalidated(tag string, n int) { h.try(func() { h.inner.TagInvalidated(tag, n) }) }
func (h *Hooks) RateLimitDecision(l string, ok bool) {
	h.try(func() { h.inner.RateLimitDecision(l, ok) })
}
func (h *Hooks) RateLimitBlocked(l, id string, until time.Time) {
	h.try(func() { h.inner.RateLimitBlocked(l, id, until) })
}
func (h *Hooks) ConnectionState(b, s string) { h.try(func() { h.inner.ConnectionState(b, s) }) }
func (h *Hooks) SweepCompleted(n int)        { h.try(func() { h.inner.SweepCompleted(n) }) }
