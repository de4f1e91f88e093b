// Package backendtest is a conformance suite for backend.Backend
// implementations. Each backend package runs it from its own tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/codec"
)

// Clock is a manually advanced clock for backends with an injectable Now.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Unix(1_700_000_000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Harness is a fresh backend plus a way to move its notion of time forward.
type Harness struct {
	Backend backend.Backend
	Advance func(time.Duration)
}

// Run executes the suite. newHarness is called once per subtest and must
// return an empty backend; it is responsible for cleanup via t.Cleanup.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"GetSetTTL", testGetSetTTL},
		{"SetReplacesTTL", testSetReplacesTTL},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"Increment", testIncrement},
		{"IncrementKeepsTTL", testIncrementKeepsTTL},
		{"IncrementNotInteger", testIncrementNotInteger},
		{"IncrementBelow", testIncrementBelow},
		{"Expire", testExpire},
		{"Sets", testSets},
		{"Clear", testClear},
		{"ConcurrentIncrementBelow", testConcurrentIncrementBelow},
		{"ConcurrentAddToSet", testConcurrentAddToSet},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newHarness(t))
		})
	}
}

func mustGet(t *testing.T, b backend.Backend, key string) ([]byte, bool) {
	t.Helper()
	v, ok, err := b.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v, ok
}

func mustSet(t *testing.T, b backend.Backend, key, val string, ttl time.Duration) {
	t.Helper()
	if err := b.Set(context.Background(), key, []byte(val), ttl); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func testGetSetTTL(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend

	if _, ok := mustGet(t, b, "k"); ok {
		t.Fatalf("expected miss on empty backend")
	}
	mustSet(t, b, "k", "v", 10*time.Second)
	if v, ok := mustGet(t, b, "k"); !ok || string(v) != "v" {
		t.Fatalf("Get after Set: ok=%v v=%q", ok, v)
	}
	if ok, err := b.Exists(ctx, "k"); err != nil || !ok {
		t.Fatalf("Exists before expiry: ok=%v err=%v", ok, err)
	}

	h.Advance(11 * time.Second)
	if _, ok := mustGet(t, b, "k"); ok {
		t.Fatalf("expected miss after TTL")
	}
	if ok, err := b.Exists(ctx, "k"); err != nil || ok {
		t.Fatalf("Exists after expiry: ok=%v err=%v", ok, err)
	}

	// typed helpers go through the same path
	if err := backend.SetValue[string](ctx, b, codec.String{}, "typed", "hello", time.Minute); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if v, ok, err := backend.GetValue[string](ctx, b, codec.String{}, "typed"); err != nil || !ok || v != "hello" {
		t.Fatalf("GetValue: v=%q ok=%v err=%v", v, ok, err)
	}
}

func testSetReplacesTTL(t *testing.T, h Harness) {
	b := h.Backend
	mustSet(t, b, "k", "short", time.Second)
	mustSet(t, b, "k", "forever", 0)
	h.Advance(5 * time.Second)
	if v, ok := mustGet(t, b, "k"); !ok || string(v) != "forever" {
		t.Fatalf("overwrite should replace TTL: ok=%v v=%q", ok, v)
	}
}

func testDeleteIdempotent(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	mustSet(t, b, "k", "v", time.Minute)
	for i := 0; i < 2; i++ {
		if err := b.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
	if _, ok := mustGet(t, b, "k"); ok {
		t.Fatalf("expected miss after Delete")
	}
	if err := b.Delete(ctx, "never-set"); err != nil {
		t.Fatalf("Delete of absent key: %v", err)
	}
}

func testIncrement(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	for want := int64(1); want <= 2; want++ {
		n, err := b.Increment(ctx, "ctr", 1)
		if err != nil || n != want {
			t.Fatalf("Increment: n=%d err=%v want %d", n, err, want)
		}
	}
	if n, err := b.Increment(ctx, "ctr", 5); err != nil || n != 7 {
		t.Fatalf("Increment by 5: n=%d err=%v", n, err)
	}
	if v, ok, err := backend.GetValue[int64](ctx, b, codec.Int64{}, "ctr"); err != nil || !ok || v != 7 {
		t.Fatalf("counter should read back as decimal: v=%d ok=%v err=%v", v, ok, err)
	}
}

func testIncrementKeepsTTL(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	if n, ok, err := b.IncrementBelow(ctx, "ctr", 100, 10*time.Second); err != nil || !ok || n != 1 {
		t.Fatalf("first IncrementBelow: n=%d ok=%v err=%v", n, ok, err)
	}
	h.Advance(6 * time.Second)
	if n, err := b.Increment(ctx, "ctr", 1); err != nil || n != 2 {
		t.Fatalf("Increment: n=%d err=%v", n, err)
	}
	h.Advance(5 * time.Second)
	if ok, err := b.Exists(ctx, "ctr"); err != nil || ok {
		t.Fatalf("Increment must not extend TTL: exists=%v err=%v", ok, err)
	}
}

func testIncrementNotInteger(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	mustSet(t, b, "k", "abc", time.Minute)
	if _, err := b.Increment(ctx, "k", 1); !errors.Is(err, backend.ErrNotInteger) {
		t.Fatalf("want ErrNotInteger, got %v", err)
	}
	if _, _, err := b.IncrementBelow(ctx, "k", 10, time.Minute); !errors.Is(err, backend.ErrNotInteger) {
		t.Fatalf("IncrementBelow: want ErrNotInteger, got %v", err)
	}
}

func testIncrementBelow(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	for want := int64(1); want <= 3; want++ {
		n, ok, err := b.IncrementBelow(ctx, "ctr", 3, 10*time.Second)
		if err != nil || !ok || n != want {
			t.Fatalf("IncrementBelow #%d: n=%d ok=%v err=%v", want, n, ok, err)
		}
		// later increments must not push the window out
		h.Advance(time.Second)
	}
	n, ok, err := b.IncrementBelow(ctx, "ctr", 3, 10*time.Second)
	if err != nil || ok || n != 3 {
		t.Fatalf("at limit: n=%d ok=%v err=%v", n, ok, err)
	}
	h.Advance(8 * time.Second)
	n, ok, err = b.IncrementBelow(ctx, "ctr", 3, 10*time.Second)
	if err != nil || !ok || n != 1 {
		t.Fatalf("fresh window after TTL: n=%d ok=%v err=%v", n, ok, err)
	}
}

func testExpire(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend

	if err := b.Expire(ctx, "absent", time.Minute); err != nil {
		t.Fatalf("Expire absent: %v", err)
	}
	if ok, _ := b.Exists(ctx, "absent"); ok {
		t.Fatalf("Expire must not create keys")
	}

	mustSet(t, b, "k", "v", 0)
	if err := b.Expire(ctx, "k", 5*time.Second); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	h.Advance(3 * time.Second)
	if _, ok := mustGet(t, b, "k"); !ok {
		t.Fatalf("key should survive until new TTL")
	}
	h.Advance(3 * time.Second)
	if _, ok := mustGet(t, b, "k"); ok {
		t.Fatalf("key should expire after new TTL")
	}
}

func sortedMembers(t *testing.T, b backend.Backend, key string) []string {
	t.Helper()
	m, err := b.Members(context.Background(), key)
	if err != nil {
		t.Fatalf("Members(%q): %v", key, err)
	}
	sort.Strings(m)
	return m
}

func testSets(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend

	if m := sortedMembers(t, b, "tag"); len(m) != 0 {
		t.Fatalf("absent set should be empty, got %v", m)
	}
	for _, m := range []string{"cache:b", "cache:a", "cache:b"} {
		if err := b.AddToSet(ctx, "tag", m, 10*time.Second); err != nil {
			t.Fatalf("AddToSet: %v", err)
		}
	}
	if got := sortedMembers(t, b, "tag"); fmt.Sprint(got) != "[cache:a cache:b]" {
		t.Fatalf("members: got %v", got)
	}

	// each add refreshes the TTL
	h.Advance(8 * time.Second)
	if err := b.AddToSet(ctx, "tag", "cache:c", 10*time.Second); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}
	h.Advance(8 * time.Second)
	if got := sortedMembers(t, b, "tag"); len(got) != 3 {
		t.Fatalf("set should survive after refresh, got %v", got)
	}
	h.Advance(3 * time.Second)
	if got := sortedMembers(t, b, "tag"); len(got) != 0 {
		t.Fatalf("set should expire, got %v", got)
	}
}

func testClear(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	mustSet(t, b, "a", "1", 0)
	mustSet(t, b, "b", "2", time.Minute)
	if err := b.AddToSet(ctx, "s", "m", time.Minute); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{"a", "b", "s"} {
		if ok, err := b.Exists(ctx, k); err != nil || ok {
			t.Fatalf("%q survived Clear: ok=%v err=%v", k, ok, err)
		}
	}
}

func testConcurrentIncrementBelow(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	const n = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := b.IncrementBelow(ctx, "hot", n-1, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				allowed++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("IncrementBelow errors: %v", errs)
	}
	if allowed != n-1 {
		t.Fatalf("allowed=%d want exactly %d", allowed, n-1)
	}
}

func testConcurrentAddToSet(t *testing.T, h Harness) {
	ctx := context.Background()
	b := h.Backend
	const n = 50

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errCh <- b.AddToSet(ctx, "tag", fmt.Sprintf("cache:%d", i), time.Minute)
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("AddToSet: %v", err)
		}
	}
	if got := sortedMembers(t, b, "tag"); len(got) != n {
		t.Fatalf("lost set members: got %d want %d", len(got), n)
	}
}
