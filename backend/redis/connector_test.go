package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/cachekit"
)

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{1, 100 * time.Millisecond},
		{5, 500 * time.Millisecond},
		{30, 3 * time.Second},
		{31, 3 * time.Second},
		{1000, 3 * time.Second},
	}
	for _, tc := range cases {
		if got := RetryDelay(tc.n); got != tc.want {
			t.Fatalf("RetryDelay(%d)=%s want %s", tc.n, got, tc.want)
		}
	}
}

type fakeDial struct {
	failures int
	pings    int
	slept    []time.Duration
	states   []State
}

func (f *fakeDial) connector(maxRetries int) *connector {
	c := newConnector("fake:6379", maxRetries, func(context.Context) error {
		f.pings++
		if f.pings <= f.failures {
			return errors.New("connection refused")
		}
		return nil
	}, func(s State) { f.states = append(f.states, s) })
	c.sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return c
}

func TestConnectorRecoversWithinBudget(t *testing.T) {
	f := &fakeDial{failures: 3}
	c := f.connector(5)
	if err := c.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state=%s", c.State())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(f.slept) != len(want) {
		t.Fatalf("slept=%v want %v", f.slept, want)
	}
	for i := range want {
		if f.slept[i] != want[i] {
			t.Fatalf("slept=%v want %v", f.slept, want)
		}
	}
	if len(f.states) != 1 || f.states[0] != StateConnected {
		t.Fatalf("state transitions=%v", f.states)
	}
}

func TestConnectorFailsTerminally(t *testing.T) {
	f := &fakeDial{failures: 100}
	c := f.connector(3)
	err := c.connect(context.Background())

	var ce *cachekit.ConnectionExhaustedError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConnectionExhaustedError, got %v", err)
	}
	if ce.Attempts != 4 || f.pings != 4 {
		t.Fatalf("attempts=%d pings=%d want 4", ce.Attempts, f.pings)
	}
	if c.State() != StateFailed {
		t.Fatalf("state=%s want failed", c.State())
	}

	// a later Reconnect starts a fresh budget
	f.failures = 0
	f.pings = 0
	if err := c.connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state=%s want connected", c.State())
	}
}

func TestConnectorHonorsContext(t *testing.T) {
	f := &fakeDial{failures: 100}
	c := f.connector(10)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	err := c.connect(ctx)
	var ce *cachekit.ConnectionExhaustedError
	if !errors.As(err, &ce) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want exhausted wrapping context.Canceled, got %v", err)
	}
	if c.State() != StateFailed {
		t.Fatalf("state=%s", c.State())
	}
}
