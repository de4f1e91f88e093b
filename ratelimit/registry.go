package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
)

var ErrUnknownLimiter = errors.New("ratelimit: unknown limiter")

// DefaultTable is one row per traffic class.
var DefaultTable = []Config{
	{Name: "api", Window: 15 * time.Minute, MaxRequests: 100},
	{Name: "upload", Window: time.Hour, MaxRequests: 20},
	{Name: "message", Window: time.Minute, MaxRequests: 10},
	{Name: "auth", Window: 15 * time.Minute, MaxRequests: 5, BlockDuration: time.Hour},
	{Name: "search", Window: time.Minute, MaxRequests: 30},
}

// Override returns a copy of table where each row of rows replaces the
// non-zero fields of the row with the same name. Rows with new names are
// appended.
func Override(table, rows []Config) []Config {
	out := append([]Config(nil), table...)
	for _, r := range rows {
		i := indexOf(out, r.Name)
		if i < 0 {
			out = append(out, r)
			continue
		}
		c := &out[i]
		if r.Window > 0 {
			c.Window = r.Window
		}
		if r.MaxRequests > 0 {
			c.MaxRequests = r.MaxRequests
		}
		if r.BlockDuration > 0 {
			c.BlockDuration = r.BlockDuration
		}
		if r.KeyPrefix != "" {
			c.KeyPrefix = r.KeyPrefix
		}
	}
	return out
}

func indexOf(table []Config, name string) int {
	for i := range table {
		if table[i].Name == name {
			return i
		}
	}
	return -1
}

// Registry holds one Limiter per named row, all on the same backend.
type Registry struct {
	names    []string
	limiters map[string]*Limiter
}

func NewRegistry(b backend.Backend, table []Config, opts ...Option) (*Registry, error) {
	r := &Registry{limiters: make(map[string]*Limiter, len(table))}
	prefixes := make(map[string]string, len(table))
	for _, cfg := range table {
		if _, dup := r.limiters[cfg.Name]; dup {
			return nil, &cachekit.ConfigurationError{Component: "ratelimit registry", Reason: fmt.Sprintf("duplicate limiter %q", cfg.Name)}
		}
		l, err := New(b, cfg, opts...)
		if err != nil {
			return nil, err
		}
		p := l.Config().KeyPrefix
		if other, clash := prefixes[p]; clash {
			return nil, &cachekit.ConfigurationError{
				Component: "ratelimit registry",
				Reason:    fmt.Sprintf("limiters %q and %q share key prefix %q", other, cfg.Name, p),
			}
		}
		prefixes[p] = cfg.Name
		r.limiters[cfg.Name] = l
		r.names = append(r.names, cfg.Name)
	}
	return r, nil
}

func (r *Registry) Get(name string) (*Limiter, bool) {
	l, ok := r.limiters[name]
	return l, ok
}

// Check runs the named limiter. Unknown names fail closed.
func (r *Registry) Check(ctx context.Context, name, id string) (Result, error) {
	l, ok := r.limiters[name]
	if !ok {
		return Result{State: Blocked}, fmt.Errorf("%w: %q", ErrUnknownLimiter, name)
	}
	return l.Check(ctx, id)
}

// Names in table order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
