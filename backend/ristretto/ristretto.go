// Package ristretto runs the in-process backend on dgraph-io/ristretto.
//
// Ristretto is admission-controlled: under memory pressure a write may be
// refused, which surfaces as backend.ErrRejected. Rate-limit counters stored
// here can therefore be dropped under pressure; size MaxCost accordingly.
package ristretto

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/cachekit/backend/bytestore"
)

type Store struct {
	c *rc.Cache
}

var _ bytestore.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes
	BufferItems int64
	Metrics     bool
}

// DefaultConfig sizes the cache for roughly 64MB of entries.
func DefaultConfig() Config {
	return Config{
		NumCounters: 1e6,
		MaxCost:     64 << 20,
		BufferItems: 64,
	}
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// New returns a full backend on top of a fresh Ristretto cache.
func New(cfg Config, bcfg bytestore.Config) (*bytestore.Backend, error) {
	s, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	if bcfg.Name == "" {
		bcfg.Name = "ristretto"
	}
	return bytestore.New(s, bcfg), nil
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		s.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for Ristretto's write buffer so the value is visible to the next
// Get; the backend relies on read-your-writes for counters.
func (s *Store) Set(key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok := s.c.SetWithTTL(key, value, int64(len(value)), ttl)
	s.c.Wait()
	return ok, nil
}

func (s *Store) Del(key string) error {
	s.c.Del(key)
	return nil
}

func (s *Store) Reset() error {
	s.c.Clear()
	return nil
}

func (s *Store) Close() error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes Ristretto's counters; nil unless Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
