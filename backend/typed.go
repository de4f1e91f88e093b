package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/cachekit/codec"
)

// GetValue reads key and decodes it with c.
func GetValue[V any](ctx context.Context, b Backend, c codec.Codec[V], key string) (V, bool, error) {
	var zero V
	raw, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %q: %w", ErrDecode, key, err)
	}
	return v, true, nil
}

// SetValue encodes v with c and stores it under key.
func SetValue[V any](ctx context.Context, b Backend, c codec.Codec[V], key string, v V, ttl time.Duration) error {
	raw, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("backend: encode %q: %w", key, err)
	}
	return b.Set(ctx, key, raw, ttl)
}
