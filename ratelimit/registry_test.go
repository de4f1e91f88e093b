package ratelimit_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/ratelimit"
)

func TestDefaultRegistry(t *testing.T) {
	b, clock := newMemory(t)
	r, err := ratelimit.NewRegistry(b, ratelimit.DefaultTable, ratelimit.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"api", "upload", "message", "auth", "search"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names = %v", got)
	}

	auth, ok := r.Get("auth")
	if !ok {
		t.Fatal("auth missing")
	}
	if cfg := auth.Config(); cfg.BlockDuration != time.Hour || cfg.KeyPrefix != "ratelimit:auth" || cfg.MaxRequests != 5 {
		t.Fatalf("auth config %+v", cfg)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if res, err := r.Check(ctx, "auth", "ip"); err != nil || !res.Allowed() {
			t.Fatalf("check %d: %+v %v", i, res, err)
		}
	}
	if res, _ := r.Check(ctx, "auth", "ip"); res.Allowed() {
		t.Fatal("sixth auth attempt should block")
	}
	if res, _ := r.Check(ctx, "api", "ip"); !res.Allowed() {
		t.Fatal("api shares no state with auth")
	}
}

func TestRegistryUnknownLimiterDenies(t *testing.T) {
	b, _ := newMemory(t)
	r, _ := ratelimit.NewRegistry(b, ratelimit.DefaultTable)
	res, err := r.Check(context.Background(), "nope", "id")
	if !errors.Is(err, ratelimit.ErrUnknownLimiter) || res.Allowed() {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatal("Get(nope) ok")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	b, _ := newMemory(t)
	cases := map[string][]ratelimit.Config{
		"name": {
			{Name: "a", Window: time.Second, MaxRequests: 1},
			{Name: "a", Window: time.Second, MaxRequests: 2},
		},
		"prefix": {
			{Name: "a", Window: time.Second, MaxRequests: 1, KeyPrefix: "rl"},
			{Name: "b", Window: time.Second, MaxRequests: 2, KeyPrefix: "rl"},
		},
	}
	for name, table := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ratelimit.NewRegistry(b, table); !cachekit.IsConfigurationError(err) {
				t.Fatalf("want configuration error, got %v", err)
			}
		})
	}
}

func TestOverride(t *testing.T) {
	got := ratelimit.Override(ratelimit.DefaultTable, []ratelimit.Config{
		{Name: "api", MaxRequests: 500},
		{Name: "export", Window: time.Hour, MaxRequests: 3},
	})
	if len(got) != len(ratelimit.DefaultTable)+1 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].MaxRequests != 500 || got[0].Window != 15*time.Minute {
		t.Fatalf("api = %+v", got[0])
	}
	if got[len(got)-1].Name != "export" {
		t.Fatalf("last = %+v", got[len(got)-1])
	}
	if ratelimit.DefaultTable[0].MaxRequests != 100 {
		t.Fatal("Override mutated DefaultTable")
	}
}
