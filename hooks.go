package cachekit

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// They are called on hot paths (every Remember and every Check).
type Hooks interface {
	QueryHit(cacheKey string)
	QueryMiss(cacheKey string)
	// The producer returned an error; nothing was cached.
	ProducerFailed(cacheKey string, err error)

	// A cached entry was deleted on read.
	// reason ∈ {"value_decode"}
	SelfHeal(cacheKey, reason string)

	// A backend call failed. op is the Backend method name.
	BackendError(op, key string, err error)

	// Adding cacheKey to a tag set failed; the value itself was cached.
	TagIndexError(tag, cacheKey string, err error)
	TagInvalidated(tag string, keys int)

	RateLimitDecision(limiter string, allowed bool)
	// An identifier moved from Allowed to Blocked.
	RateLimitBlocked(limiter, identifier string, until time.Time)

	// backend ∈ {"redis"}; state ∈ {"connecting", "connected", "failed", "closed"}
	ConnectionState(backend, state string)

	// The in-process sweep finished a pass.
	SweepCompleted(removed int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) QueryHit(string)                            {}
func (NopHooks) QueryMiss(string)                           {}
func (NopHooks) ProducerFailed(string, error)               {}
func (NopHooks) SelfHeal(string, string)                    {}
func (NopHooks) BackendError(string, string, error)         {}
func (NopHooks) TagIndexError(string, string, error)        {}
func (NopHooks) TagInvalidated(string, int)                 {}
func (NopHooks) RateLimitDecision(string, bool)             {}
func (NopHooks) RateLimitBlocked(string, string, time.Time) {}
func (NopHooks) ConnectionState(string, string)             {}
func (NopHooks) SweepCompleted(int)                         {}
