// Package backend defines the storage contract shared by the query cache and
// the rate limiter.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes passed to Set. Counters written by Increment/IncrementBelow are decimal
// ASCII integers (codec.Int64), the same representation in every backend.
//
// Key conventions owned by this module:
//
//	cache:<key>                 memoized values (default prefix)
//	<prefix>:<key>              memoized values under a custom prefix
//	cache:tag:<tag>             tag sets
//	<prefix>:block:<id>         rate-limit block deadline
//	<prefix>:count:<id>         rate-limit window counter
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned by every operation of a backend that is not
	// connected (or already closed). Backends never substitute defaults.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrNotInteger is returned when incrementing a value that is not a
	// decimal integer.
	ErrNotInteger = errors.New("backend: value is not an integer")
	// ErrWrongKind is returned for value operations on a set key and vice versa.
	ErrWrongKind = errors.New("backend: operation against a key holding the wrong kind of value")
	// ErrRejected is returned when the storage engine refused a write.
	ErrRejected = errors.New("backend: write rejected by engine")
	// ErrDecode wraps codec failures from GetValue.
	ErrDecode = errors.New("backend: decode failed")
)

// Backend is a byte store with TTLs, counters and sets.
// Must be safe for concurrent use; all synchronization happens inside the
// implementation. ttl <= 0 means no expiry.
type Backend interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set inserts or overwrites key. Any previous TTL is replaced.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists follows the same expiry rules as Get.
	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically adds amount to the integer at key (absent => 0)
	// and returns the new value. The TTL is left untouched.
	Increment(ctx context.Context, key string, amount int64) (int64, error)

	// IncrementBelow atomically increments key by one only if its current
	// value is below limit. It returns the new value and true, or the current
	// value and false when the limit is already reached. ttl is applied only
	// when the increment creates the counter (new value == 1).
	IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)

	// Expire resets the TTL of an existing key. No-op if key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// AddToSet atomically adds member to the set at key and refreshes the
	// set's TTL.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error

	// Members returns the members of the set at key; empty when absent.
	Members(ctx context.Context, key string) ([]string, error)

	// Clear drops every key. Administrative, not for hot paths.
	Clear(ctx context.Context) error

	// Close releases resources and stops background work.
	Close(ctx context.Context) error
}
