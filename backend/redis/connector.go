package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachekit"
)

// State of the connection to the Redis server.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	// StateFailed is terminal for a dial: the retry budget was exhausted.
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	retryStep     = 100 * time.Millisecond
	maxRetryDelay = 3 * time.Second
)

// RetryDelay is the wait after the n-th failed attempt: min(n*100ms, 3s).
func RetryDelay(n int) time.Duration {
	d := time.Duration(n) * retryStep
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// connector runs the bounded dial: Connecting -> Connected | Failed.
type connector struct {
	addr       string
	maxRetries int
	ping       func(context.Context) error
	sleep      func(context.Context, time.Duration) error
	onState    func(State)

	mu    sync.Mutex // serializes dials
	state atomic.Int32
}

func newConnector(addr string, maxRetries int, ping func(context.Context) error, onState func(State)) *connector {
	c := &connector{
		addr:       addr,
		maxRetries: maxRetries,
		ping:       ping,
		sleep:      sleepCtx,
		onState:    onState,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connector) State() State { return State(c.state.Load()) }

func (c *connector) set(s State) {
	if State(c.state.Swap(int32(s))) != s && c.onState != nil {
		c.onState(s)
	}
}

// connect pings until success or until more than maxRetries attempts failed.
func (c *connector) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return errClosed
	}
	c.set(StateConnecting)

	retries := 0
	for {
		err := c.ping(ctx)
		if err == nil {
			c.set(StateConnected)
			return nil
		}
		retries++
		if retries > c.maxRetries {
			c.set(StateFailed)
			return &cachekit.ConnectionExhaustedError{Addr: c.addr, Attempts: retries, Last: err}
		}
		if serr := c.sleep(ctx, RetryDelay(retries)); serr != nil {
			c.set(StateFailed)
			return &cachekit.ConnectionExhaustedError{Addr: c.addr, Attempts: retries, Last: serr}
		}
	}
}

func (c *connector) close() {
	c.mu.Lock()
	c.set(StateClosed)
	c.mu.Unlock()
}
