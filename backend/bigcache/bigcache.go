// Package bigcache runs the in-process backend on allegro/bigcache.
//
// BigCache has no per-entry TTL: entries are evicted after LifeWindow
// regardless of the TTL they were written with. Shorter TTLs are enforced by
// the envelope on read; TTLs longer than LifeWindow are cut short. Keep
// LifeWindow at least as long as the longest TTL in use (tag sets use 24h).
package bigcache

import (
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/cachekit/backend/bytestore"
)

type Store struct {
	c *bc.BigCache
}

var _ bytestore.Store = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration // 0 => 24h
	CleanWindow        time.Duration
	Shards             int // power of two
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func NewStore(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// New returns a full backend on top of a fresh BigCache.
func New(cfg Config, bcfg bytestore.Config) (*bytestore.Backend, error) {
	s, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	if bcfg.Name == "" {
		bcfg.Name = "bigcache"
	}
	return bytestore.New(s, bcfg), nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(key string, value []byte, _ time.Duration) (bool, error) {
	if err := s.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(key string) error {
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (s *Store) Reset() error { return s.c.Reset() }

func (s *Store) Close() error { return s.c.Close() }
