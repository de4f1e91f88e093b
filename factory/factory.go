// Package factory selects and owns the process's single backend.
//
// A Factory is created once at startup and passed to whatever needs a
// backend. Selection happens once from Config: Redis when UseRedis is set and
// RedisURL is non-empty, otherwise an in-process engine.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/backend/bigcache"
	"github.com/unkn0wn-root/cachekit/backend/bytestore"
	"github.com/unkn0wn-root/cachekit/backend/memory"
	"github.com/unkn0wn-root/cachekit/backend/redis"
	"github.com/unkn0wn-root/cachekit/backend/ristretto"
	"github.com/unkn0wn-root/cachekit/internal/util"
)

type Kind string

const (
	KindRedis     Kind = "redis"
	KindMemory    Kind = "memory"
	KindRistretto Kind = "ristretto"
	KindBigCache  Kind = "bigcache"
)

// Local engine names accepted in Config.LocalEngine.
const (
	EngineMap       = "map"
	EngineRistretto = "ristretto"
	EngineBigCache  = "bigcache"
)

type Config struct {
	UseRedis bool
	RedisURL string

	// LocalEngine is one of "map" (default), "ristretto", "bigcache".
	LocalEngine   string
	SweepInterval time.Duration // map engine only; 0 => 60s, < 0 disables

	RedisMaxRetries   int
	RedisQueryTimeout time.Duration

	Ristretto ristretto.Config // zero => ristretto.DefaultConfig()
	BigCache  bigcache.Config

	Logger cachekit.Logger
	Hooks  cachekit.Hooks
}

type Factory struct {
	cfg  Config
	kind Kind
	log  cachekit.Logger

	mu sync.Mutex
	b  backend.Backend
}

// New validates cfg and decides the backend kind. Nothing is dialed or
// allocated until the first Backend call.
func New(cfg Config) (*Factory, error) {
	f := &Factory{
		cfg: cfg,
		log: util.Coalesce[cachekit.Logger](cfg.Logger, cachekit.NopLogger{}),
	}
	f.cfg.Logger = f.log

	if cfg.UseRedis && cfg.RedisURL != "" {
		f.kind = KindRedis
		return f, nil
	}
	if cfg.UseRedis {
		f.log.Warn("redis enabled without a URL, using the in-process backend", nil)
	}
	switch util.Coalesce(cfg.LocalEngine, EngineMap) {
	case EngineMap:
		f.kind = KindMemory
	case EngineRistretto:
		f.kind = KindRistretto
	case EngineBigCache:
		f.kind = KindBigCache
	default:
		return nil, &cachekit.ConfigurationError{
			Component: "factory",
			Reason:    fmt.Sprintf("unknown local engine %q", cfg.LocalEngine),
		}
	}
	return f, nil
}

// Kind reports the selected backend.
func (f *Factory) Kind() Kind { return f.kind }

// Backend returns the shared backend, constructing it on first use.
// Construction errors are returned and not cached; the next call retries.
func (f *Factory) Backend(ctx context.Context) (backend.Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.b != nil {
		return f.b, nil
	}
	b, err := f.build(ctx)
	if err != nil {
		return nil, err
	}
	f.b = b
	return b, nil
}

func (f *Factory) build(ctx context.Context) (backend.Backend, error) {
	bs := bytestore.Config{Logger: f.cfg.Logger, Hooks: f.cfg.Hooks}
	switch f.kind {
	case KindRedis:
		r, err := redis.New(ctx, redis.Config{
			URL:          f.cfg.RedisURL,
			MaxRetries:   f.cfg.RedisMaxRetries,
			QueryTimeout: f.cfg.RedisQueryTimeout,
			Logger:       f.cfg.Logger,
			Hooks:        f.cfg.Hooks,
		})
		if err != nil {
			return nil, fmt.Errorf("factory: %w", err)
		}
		f.log.Info("cache backend ready", cachekit.Fields{"kind": f.kind})
		return r, nil
	case KindRistretto:
		rcfg := f.cfg.Ristretto
		if rcfg == (ristretto.Config{}) {
			rcfg = ristretto.DefaultConfig()
		}
		b, err := ristretto.New(rcfg, bs)
		if err != nil {
			return nil, fmt.Errorf("factory: %w", err)
		}
		f.warnLocal()
		return b, nil
	case KindBigCache:
		b, err := bigcache.New(f.cfg.BigCache, bs)
		if err != nil {
			return nil, fmt.Errorf("factory: %w", err)
		}
		f.warnLocal()
		return b, nil
	default:
		b := memory.New(memory.Config{
			SweepInterval: f.cfg.SweepInterval,
			Logger:        f.cfg.Logger,
			Hooks:         f.cfg.Hooks,
		})
		f.warnLocal()
		return b, nil
	}
}

func (f *Factory) warnLocal() {
	f.log.Warn("using in-process cache backend: state is per process, rate limits and invalidations are not shared across instances",
		cachekit.Fields{"kind": f.kind})
}

// Reset closes the current backend, if any, and drops it so the next Backend
// call builds a fresh one. Intended for tests and admin tooling.
func (f *Factory) Reset(ctx context.Context) error {
	f.mu.Lock()
	b := f.b
	f.b = nil
	f.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close(ctx)
}
