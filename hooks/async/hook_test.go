package asynchook

import (
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/cachekit"
)

type countingHooks struct {
	cachekit.NopHooks
	mu      sync.Mutex
	hits    int
	blocked []string
	gate    chan struct{}
}

func (c *countingHooks) QueryHit(string) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *countingHooks) RateLimitBlocked(l, id string, _ time.Time) {
	c.mu.Lock()
	c.blocked = append(c.blocked, l+"/"+id)
	c.mu.Unlock()
}

func TestDeliversAndDrainsOnClose(t *testing.T) {
	inner := &countingHooks{}
	h := New(inner, 2, 100)
	for i := 0; i < 50; i++ {
		h.QueryHit("k")
	}
	h.RateLimitBlocked("auth", "ip", time.Now())
	h.Close()

	if inner.hits != 50 || len(inner.blocked) != 1 || inner.blocked[0] != "auth/ip" {
		t.Fatalf("hits=%d blocked=%v", inner.hits, inner.blocked)
	}
	if h.Dropped() != 0 {
		t.Fatalf("dropped %d", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	inner := &countingHooks{gate: make(chan struct{})}
	h := New(inner, 1, 1)

	h.QueryHit("a") // taken by the worker, which blocks on gate
	time.Sleep(20 * time.Millisecond)
	h.QueryHit("b") // queued
	h.QueryHit("c") // dropped
	close(inner.gate)
	h.Close()

	if h.Dropped() != 1 {
		t.Fatalf("dropped %d, want 1", h.Dropped())
	}
	if inner.hits != 2 {
		t.Fatalf("hits %d, want 2", inner.hits)
	}
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	h := New(cachekit.NopHooks{}, 1, 4)
	h.Close()
	h.Close()
	h.SweepCompleted(1)
	if h.Dropped() != 1 {
		t.Fatalf("dropped %d", h.Dropped())
	}
}
