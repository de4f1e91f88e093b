// Package ratelimit implements fixed-window rate limiting with a block period
// on top of a backend.Backend.
//
// Each identifier has two entries: <prefix>:count:<id>, a counter that lives
// for one window, and <prefix>:block:<id>, the block deadline in unix
// milliseconds that lives for the block duration. A live block supersedes
// counting. Compare-and-increment is a single backend call, so concurrent
// checks never overshoot MaxRequests.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/codec"
	"github.com/unkn0wn-root/cachekit/internal/util"
)

// BlockFactor is the default BlockDuration as a multiple of Window.
const BlockFactor = 15

type Config struct {
	Name          string
	Window        time.Duration
	MaxRequests   int64
	BlockDuration time.Duration // 0 => Window*BlockFactor
	KeyPrefix     string        // "" => "ratelimit:<Name>"
}

// Resolved returns c with BlockDuration and KeyPrefix defaults filled in.
func (c Config) Resolved() Config {
	if c.BlockDuration <= 0 {
		c.BlockDuration = c.Window * BlockFactor
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "ratelimit:" + c.Name
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Name == "":
		return &cachekit.ConfigurationError{Component: "ratelimit", Reason: "name is required"}
	case c.Window < time.Millisecond:
		// backends store TTLs with millisecond precision
		return &cachekit.ConfigurationError{Component: "ratelimit " + c.Name, Reason: "window must be at least 1ms"}
	case c.BlockDuration > 0 && c.BlockDuration < time.Millisecond:
		return &cachekit.ConfigurationError{Component: "ratelimit " + c.Name, Reason: "block duration must be at least 1ms"}
	case c.MaxRequests <= 0:
		return &cachekit.ConfigurationError{Component: "ratelimit " + c.Name, Reason: "max requests must be positive"}
	}
	return nil
}

type State int

const (
	Allowed State = iota
	Blocked
)

func (s State) String() string {
	if s == Allowed {
		return "allowed"
	}
	return "blocked"
}

// Result of a Check. Remaining is only meaningful when Allowed.
type Result struct {
	State     State
	Remaining int64
	ResetAt   time.Time
	Limit     int64
}

func (r Result) Allowed() bool { return r.State == Allowed }

// Stats is a read-only view of an identifier's state.
type Stats struct {
	Count        int64
	Blocked      bool
	BlockedUntil time.Time
}

type Option func(*Limiter)

// WithClock sets the time source used for block deadlines and ResetAt.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// WithFailOpen allows requests when the backend errors. The error is still
// returned. The default denies.
func WithFailOpen() Option { return func(l *Limiter) { l.failOpen = true } }

func WithLogger(log cachekit.Logger) Option { return func(l *Limiter) { l.log = log } }

func WithHooks(h cachekit.Hooks) Option { return func(l *Limiter) { l.hooks = h } }

type Limiter struct {
	b        backend.Backend
	cfg      Config
	now      func() time.Time
	failOpen bool
	log      cachekit.Logger
	hooks    cachekit.Hooks
	ms       codec.Int64
}

func New(b backend.Backend, cfg Config, opts ...Option) (*Limiter, error) {
	if b == nil {
		return nil, &cachekit.ConfigurationError{Component: "ratelimit", Reason: "backend is required"}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Limiter{b: b, cfg: cfg.Resolved(), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	l.log = util.Coalesce[cachekit.Logger](l.log, cachekit.NopLogger{})
	l.hooks = util.Coalesce[cachekit.Hooks](l.hooks, cachekit.NopHooks{})
	return l, nil
}

// Config returns the limiter's configuration with defaults applied.
func (l *Limiter) Config() Config { return l.cfg }

func (l *Limiter) countKey(id string) string { return util.CountKey(l.cfg.KeyPrefix, id) }
func (l *Limiter) blockKey(id string) string { return util.BlockKey(l.cfg.KeyPrefix, id) }

// Check counts one request for id and reports whether it may proceed.
// On backend errors the Result is Blocked (or Allowed with WithFailOpen)
// and the error is returned.
func (l *Limiter) Check(ctx context.Context, id string) (Result, error) {
	now := l.now()
	res := Result{Limit: l.cfg.MaxRequests}

	until, blocked, err := l.blockedUntil(ctx, id, now)
	if err != nil {
		return l.degraded(res, now, id, err), err
	}
	if blocked {
		res.State = Blocked
		res.ResetAt = until
		l.hooks.RateLimitDecision(l.cfg.Name, false)
		return res, nil
	}

	n, ok, err := l.b.IncrementBelow(ctx, l.countKey(id), l.cfg.MaxRequests, l.cfg.Window)
	if err != nil {
		err = fmt.Errorf("ratelimit %s: count %q: %w", l.cfg.Name, id, err)
		return l.degraded(res, now, id, err), err
	}
	if ok {
		res.State = Allowed
		res.Remaining = max(l.cfg.MaxRequests-n, 0)
		res.ResetAt = now.Add(l.cfg.Window)
		l.hooks.RateLimitDecision(l.cfg.Name, true)
		return res, nil
	}

	until = now.Add(l.cfg.BlockDuration)
	res.State = Blocked
	res.ResetAt = until
	l.hooks.RateLimitDecision(l.cfg.Name, false)
	if err := backend.SetValue[int64](ctx, l.b, l.ms, l.blockKey(id), until.UnixMilli(), l.cfg.BlockDuration); err != nil {
		// the request is denied either way; only the block could not be recorded
		return res, fmt.Errorf("ratelimit %s: block %q: %w", l.cfg.Name, id, err)
	}
	l.hooks.RateLimitBlocked(l.cfg.Name, id, until)
	l.log.Info("rate limit exceeded, identifier blocked", cachekit.Fields{
		"limiter": l.cfg.Name, "id": id, "count": n, "until": until,
	})
	return res, nil
}

func (l *Limiter) degraded(res Result, now time.Time, id string, err error) Result {
	res.ResetAt = now.Add(l.cfg.Window)
	if l.failOpen {
		res.State = Allowed
	} else {
		res.State = Blocked
	}
	l.hooks.RateLimitDecision(l.cfg.Name, l.failOpen)
	l.log.Warn("rate limit check failed", cachekit.Fields{
		"limiter": l.cfg.Name, "id": id, "fail_open": l.failOpen, "err": err,
	})
	return res
}

// blockedUntil reads the block deadline. An unparsable marker is dropped.
func (l *Limiter) blockedUntil(ctx context.Context, id string, now time.Time) (time.Time, bool, error) {
	ms, ok, err := backend.GetValue[int64](ctx, l.b, l.ms, l.blockKey(id))
	if err != nil {
		if errors.Is(err, backend.ErrDecode) {
			_ = l.b.Delete(ctx, l.blockKey(id))
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("ratelimit %s: read block %q: %w", l.cfg.Name, id, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	until := time.UnixMilli(ms)
	return until, now.Before(until), nil
}

// Reset deletes both the block and count entries for id.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	if err := l.b.Delete(ctx, l.blockKey(id)); err != nil {
		return fmt.Errorf("ratelimit %s: reset %q: %w", l.cfg.Name, id, err)
	}
	if err := l.b.Delete(ctx, l.countKey(id)); err != nil {
		return fmt.Errorf("ratelimit %s: reset %q: %w", l.cfg.Name, id, err)
	}
	return nil
}

func (l *Limiter) Stats(ctx context.Context, id string) (Stats, error) {
	var st Stats
	until, blocked, err := l.blockedUntil(ctx, id, l.now())
	if err != nil {
		return st, err
	}
	if blocked {
		st.Blocked, st.BlockedUntil = true, until
	}
	n, _, err := backend.GetValue[int64](ctx, l.b, l.ms, l.countKey(id))
	if err != nil {
		return st, fmt.Errorf("ratelimit %s: read count %q: %w", l.cfg.Name, id, err)
	}
	st.Count = n
	return st, nil
}
