// Package sloghooks implements cachekit.Hooks on top of log/slog, with
// sampling for hot-path events and redaction of keys and identifiers.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachekit"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	QueryEvery    uint64 // hits and misses
	DecisionEvery uint64 // rate limit decisions
	SelfHealEvery uint64
	// Optional redactor for cache keys and rate limit identifiers.
	// Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	queryCtr    atomic.Uint64
	decisionCtr atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ cachekit.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) QueryHit(cacheKey string) {
	if h.l == nil || !sample(h.opts.QueryEvery, &h.queryCtr) {
		return
	}
	h.l.Debug("cachekit.query_hit", "key", h.redact(cacheKey))
}

func (h *Hooks) QueryMiss(cacheKey string) {
	if h.l == nil || !sample(h.opts.QueryEvery, &h.queryCtr) {
		return
	}
	h.l.Debug("cachekit.query_miss", "key", h.redact(cacheKey))
}

func (h *Hooks) ProducerFailed(cacheKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachekit.producer_failed",
		"key", h.redact(cacheKey),
		"err", err)
}

func (h *Hooks) SelfHeal(cacheKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("cachekit.self_heal",
		"key", h.redact(cacheKey),
		"reason", reason)
}

func (h *Hooks) BackendError(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachekit.backend_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) TagIndexError(tag, cacheKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachekit.tag_index_error",
		"tag", tag,
		"key", h.redact(cacheKey),
		"err", err)
}

func (h *Hooks) TagInvalidated(tag string, keys int) {
	if h.l == nil {
		return
	}
	h.l.Info("cachekit.tag_invalidated", "tag", tag, "keys", keys)
}

func (h *Hooks) RateLimitDecision(limiter string, allowed bool) {
	if h.l == nil || !sample(h.opts.DecisionEvery, &h.decisionCtr) {
		return
	}
	h.l.Debug("cachekit.ratelimit_decision", "limiter", limiter, "allowed", allowed)
}

func (h *Hooks) RateLimitBlocked(limiter, identifier string, until time.Time) {
	if h.l == nil {
		return
	}
	h.l.Info("cachekit.ratelimit_blocked",
		"limiter", limiter,
		"id", h.redact(identifier),
		"until", until)
}

func (h *Hooks) ConnectionState(backend, state string) {
	if h.l == nil {
		return
	}
	level := slog.LevelInfo
	if state == "failed" {
		level = slog.LevelError
	}
	h.l.Log(context.Background(), level, "cachekit.connection_state", "backend", backend, "state", state)
}

func (h *Hooks) SweepCompleted(removed int) {
	if h.l == nil || removed == 0 {
		return
	}
	h.l.Debug("cachekit.sweep_completed", "removed", removed)
}
