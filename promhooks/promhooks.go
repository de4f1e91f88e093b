// Package promhooks exports cachekit.Hooks events as Prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/cachekit"
)

var states = []string{"connecting", "connected", "failed", "closed"}

type Hooks struct {
	queries        *prometheus.CounterVec
	producerErrors prometheus.Counter
	selfHeals      *prometheus.CounterVec
	backendErrors  *prometheus.CounterVec
	tagIndexErrors prometheus.Counter
	tagInvalidated *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	blocks         *prometheus.CounterVec
	connState      *prometheus.GaugeVec
	swept          prometheus.Counter
}

var _ cachekit.Hooks = (*Hooks)(nil)

// New registers the collectors on reg (prometheus.DefaultRegisterer when
// nil). Registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_query_total",
			Help: "Query cache lookups by result",
		}, []string{"result"}),
		producerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "cachekit_producer_errors_total",
			Help: "Producer calls that returned an error",
		}),
		selfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_self_heal_total",
			Help: "Cache entries deleted on read",
		}, []string{"reason"}),
		backendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_backend_errors_total",
			Help: "Failed backend calls by operation",
		}, []string{"op"}),
		tagIndexErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "cachekit_tag_index_errors_total",
			Help: "Failed tag set updates",
		}),
		tagInvalidated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_tag_invalidated_keys_total",
			Help: "Keys deleted by tag invalidation",
		}, []string{"tag"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_ratelimit_decisions_total",
			Help: "Rate limit checks by limiter and outcome",
		}, []string{"limiter", "outcome"}),
		blocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_ratelimit_blocks_total",
			Help: "Identifiers moved to the blocked state",
		}, []string{"limiter"}),
		connState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cachekit_backend_connection_state",
			Help: "1 for the current connection state of each backend",
		}, []string{"backend", "state"}),
		swept: f.NewCounter(prometheus.CounterOpts{
			Name: "cachekit_swept_entries_total",
			Help: "Expired entries removed by the in-process sweep",
		}),
	}
}

func (h *Hooks) QueryHit(string)              { h.queries.WithLabelValues("hit").Inc() }
func (h *Hooks) QueryMiss(string)             { h.queries.WithLabelValues("miss").Inc() }
func (h *Hooks) ProducerFailed(string, error) { h.producerErrors.Inc() }
func (h *Hooks) SelfHeal(_, reason string)    { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) BackendError(op, _ string, _ error) {
	h.backendErrors.WithLabelValues(op).Inc()
}
func (h *Hooks) TagIndexError(string, string, error) { h.tagIndexErrors.Inc() }
func (h *Hooks) TagInvalidated(tag string, keys int) {
	h.tagInvalidated.WithLabelValues(tag).Add(float64(keys))
}

func (h *Hooks) RateLimitDecision(limiter string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	h.decisions.WithLabelValues(limiter, outcome).Inc()
}

func (h *Hooks) RateLimitBlocked(limiter, _ string, _ time.Time) {
	h.blocks.WithLabelValues(limiter).Inc()
}

func (h *Hooks) ConnectionState(backend, state string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		h.connState.WithLabelValues(backend, s).Set(v)
	}
}

func (h *Hooks) SweepCompleted(removed int) { h.swept.Add(float64(removed)) }
