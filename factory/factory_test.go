package factory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend/bigcache"
	"github.com/unkn0wn-root/cachekit/backend/bytestore"
	"github.com/unkn0wn-root/cachekit/backend/memory"
	"github.com/unkn0wn-root/cachekit/backend/redis"
)

type memLogger struct {
	cachekit.NopLogger
	mu    sync.Mutex
	warns []string
}

func (l *memLogger) Warn(msg string, _ cachekit.Fields) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestSelection(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want Kind
	}{
		{"default", Config{}, KindMemory},
		{"url without flag", Config{RedisURL: "redis://localhost:6379"}, KindMemory},
		{"flag without url", Config{UseRedis: true}, KindMemory},
		{"redis", Config{UseRedis: true, RedisURL: "redis://localhost:6379"}, KindRedis},
		{"ristretto", Config{LocalEngine: "ristretto"}, KindRistretto},
		{"bigcache", Config{LocalEngine: "bigcache"}, KindBigCache},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := New(tc.cfg)
			if err != nil {
				t.Fatal(err)
			}
			if f.Kind() != tc.want {
				t.Fatalf("Kind = %s, want %s", f.Kind(), tc.want)
			}
		})
	}
}

func TestFlagWithoutURLWarns(t *testing.T) {
	log := &memLogger{}
	if _, err := New(Config{UseRedis: true, Logger: log}); err != nil {
		t.Fatal(err)
	}
	if len(log.warns) != 1 {
		t.Fatalf("warns = %v", log.warns)
	}
}

func TestUnknownEngine(t *testing.T) {
	if _, err := New(Config{LocalEngine: "lru"}); !cachekit.IsConfigurationError(err) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func TestBackendIsSharedUntilReset(t *testing.T) {
	ctx := context.Background()
	log := &memLogger{}
	f, _ := New(Config{SweepInterval: -1, Logger: log})

	var wg sync.WaitGroup
	got := make(chan any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.Backend(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			got <- b
		}()
	}
	wg.Wait()
	close(got)
	first := <-got
	for b := range got {
		if b != first {
			t.Fatal("Backend returned different instances")
		}
	}
	if _, ok := first.(*memory.Memory); !ok {
		t.Fatalf("backend type %T", first)
	}
	if len(log.warns) != 1 {
		t.Fatalf("per-process warning logged %d times", len(log.warns))
	}

	_ = first.(*memory.Memory).Set(ctx, "k", []byte("v"), 0)
	if err := f.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	fresh, _ := f.Backend(ctx)
	if fresh == first {
		t.Fatal("Reset did not drop the instance")
	}
	if ok, _ := fresh.Exists(ctx, "k"); ok {
		t.Fatal("fresh backend carries old state")
	}
	if err := f.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.Reset(ctx); err != nil {
		t.Fatal("second Reset should be a no-op")
	}
}

func TestLocalEngines(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{LocalEngine: EngineRistretto},
		{LocalEngine: EngineBigCache, BigCache: bigcache.Config{Shards: 16, MaxEntriesInWindow: 1024, MaxEntrySize: 256}},
	} {
		t.Run(cfg.LocalEngine, func(t *testing.T) {
			f, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = f.Reset(ctx) })
			b, err := f.Backend(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := b.(*bytestore.Backend); !ok {
				t.Fatalf("backend type %T", b)
			}
			n, err := b.Increment(ctx, "c", 2)
			if err != nil || n != 2 {
				t.Fatalf("Increment = %d, %v", n, err)
			}
		})
	}
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	f, _ := New(Config{UseRedis: true, RedisURL: "redis://" + mr.Addr()})
	b, err := f.Backend(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*redis.Redis); !ok {
		t.Fatalf("backend type %T", b)
	}
	if err := b.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("server has %q", got)
	}
	if err := f.Reset(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRedisConstructionErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	f, _ := New(Config{UseRedis: true, RedisURL: "redis://" + addr, RedisMaxRetries: 1})
	_, err := f.Backend(ctx)
	var ce *cachekit.ConnectionExhaustedError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConnectionExhaustedError, got %v", err)
	}

	if err := mr.Restart(); err != nil {
		t.Skipf("cannot rebind %s: %v", addr, err)
	}
	if _, err := f.Backend(ctx); err != nil {
		t.Fatalf("retry after server came back: %v", err)
	}
	_ = f.Reset(ctx)
}
