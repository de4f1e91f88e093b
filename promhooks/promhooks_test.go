package promhooks

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	h := New(prometheus.NewRegistry())

	h.QueryHit("a")
	h.QueryHit("b")
	h.QueryMiss("c")
	h.ProducerFailed("c", errors.New("x"))
	h.SelfHeal("k", "value_decode")
	h.BackendError("Get", "k", errors.New("x"))
	h.TagInvalidated("users", 3)
	h.TagInvalidated("users", 2)
	h.RateLimitDecision("api", true)
	h.RateLimitDecision("api", false)
	h.RateLimitBlocked("api", "ip", time.Now())
	h.SweepCompleted(7)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"hits", testutil.ToFloat64(h.queries.WithLabelValues("hit")), 2},
		{"misses", testutil.ToFloat64(h.queries.WithLabelValues("miss")), 1},
		{"producer errors", testutil.ToFloat64(h.producerErrors), 1},
		{"self heal", testutil.ToFloat64(h.selfHeals.WithLabelValues("value_decode")), 1},
		{"backend errors", testutil.ToFloat64(h.backendErrors.WithLabelValues("Get")), 1},
		{"tag keys", testutil.ToFloat64(h.tagInvalidated.WithLabelValues("users")), 5},
		{"allowed", testutil.ToFloat64(h.decisions.WithLabelValues("api", "allowed")), 1},
		{"denied", testutil.ToFloat64(h.decisions.WithLabelValues("api", "denied")), 1},
		{"blocks", testutil.ToFloat64(h.blocks.WithLabelValues("api")), 1},
		{"swept", testutil.ToFloat64(h.swept), 7},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestConnectionStateGauge(t *testing.T) {
	h := New(prometheus.NewRegistry())
	h.ConnectionState("redis", "connecting")
	h.ConnectionState("redis", "connected")

	want := `
# HELP cachekit_backend_connection_state 1 for the current connection state of each backend
# TYPE cachekit_backend_connection_state gauge
cachekit_backend_connection_state{backend="redis",state="closed"} 0
cachekit_backend_connection_state{backend="redis",state="connected"} 1
cachekit_backend_connection_state{backend="redis",state="connecting"} 0
cachekit_backend_connection_state{backend="redis",state="failed"} 0
`
	if err := testutil.CollectAndCompare(h.connState, strings.NewReader(want)); err != nil {
		t.Fatal(err)
	}
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(reg)
}
