package limiter

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makselll/rate-limiter/backends"
	"github.com/makselll/rate-limiter/backends/memory"
	"github.com/makselll/rate-limiter/bucket"
	"github.com/makselll/rate-limiter/strategies"
)

// countingBackend wraps another backend and counts store round-trips.
type countingBackend struct {
	backends.Backend
	calls atomic.Int64
}

func (c *countingBackend) Get(ctx context.Context, key string) (string, error) {
	c.calls.Add(1)
	return c.Backend.Get(ctx, key)
}

// failingBackend simulates an unreachable store.
type failingBackend struct{}

func (failingBackend) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func (failingBackend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingBackend) Delete(ctx context.Context, key string) error { return nil }

func (failingBackend) Close() error { return nil }

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *clock) Set(sec int64) { c.now = time.Unix(sec, 0) }

func newTestLimiter(t *testing.T, store backends.Backend, clk *clock, config Config) *Limiter {
	t.Helper()
	config.Store = store
	config.Now = clk.Now
	lim, err := New(config)
	require.NoError(t, err)
	return lim
}

func request(ip, path string, modify func(*strategies.Request)) *strategies.Request {
	req := &strategies.Request{
		ClientIP: ip,
		Path:     path,
		Header:   http.Header{},
		Query:    url.Values{},
	}
	if modify != nil {
		modify(req)
	}
	return req
}

func mustStrategy(t *testing.T, kind strategies.Kind, global *bucket.Params, perValue []strategies.ValueBucket) *strategies.Strategy {
	t.Helper()
	s, err := strategies.New(kind, global, perValue)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	strategy := mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 1, RefillEvery: time.Second}, nil)

	_, err := New(Config{Strategies: []*strategies.Strategy{strategy}})
	require.ErrorIs(t, err, ErrNilStore)

	_, err = New(Config{Store: memory.New()})
	require.ErrorIs(t, err, ErrNoStrategies)
}

// Per-value url bucket: one token refilled every 10s.
func TestCheck_URLPerValueBucket(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindURL, nil, []strategies.ValueBucket{
				{Value: "/hello", Params: bucket.Params{Capacity: 1, RefillEvery: 10 * time.Second}},
			}),
		},
	})

	assert.True(t, lim.Check(ctx, request("192.0.2.1", "/hello", nil)).Allowed)

	clk.Set(1)
	decision := lim.Check(ctx, request("192.0.2.1", "/hello", nil))
	assert.False(t, decision.Allowed)
	assert.Equal(t, strategies.KindURL, decision.DeniedBy)

	clk.Set(10)
	assert.True(t, lim.Check(ctx, request("192.0.2.1", "/hello", nil)).Allowed)
}

// Global ip bucket: distinct IPs get distinct buckets with the same params.
func TestCheck_IPGlobalBucket(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 2, RefillEvery: time.Minute}, nil),
		},
	})

	assert.True(t, lim.Check(ctx, request("192.0.2.1", "/", nil)).Allowed)
	assert.True(t, lim.Check(ctx, request("192.0.2.1", "/", nil)).Allowed)
	assert.False(t, lim.Check(ctx, request("192.0.2.1", "/", nil)).Allowed)

	// A different client IP is a distinct key.
	assert.True(t, lim.Check(ctx, request("192.0.2.2", "/", nil)).Allowed)
}

func TestCheck_WhitelistBypassesBuckets(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	store := &countingBackend{Backend: memory.New()}
	lim := newTestLimiter(t, store, clk, Config{
		IPWhitelist: []netip.Addr{netip.MustParseAddr("10.0.0.1")},
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 2, RefillEvery: time.Minute}, nil),
		},
	})

	for i := 0; i < 1000; i++ {
		assert.True(t, lim.Check(ctx, request("10.0.0.1", "/", nil)).Allowed)
	}
	assert.Zero(t, store.calls.Load(), "whitelisted requests must not consult any bucket")

	// Non-whitelisted IPs still hit the store.
	lim.Check(ctx, request("10.0.0.2", "/", nil))
	assert.Positive(t, store.calls.Load())
}

// Header strategy with both a per-value bucket on X-Token and a global
// bucket: the per-value bucket wins when the header is present, the
// global bucket catches everything else.
func TestCheck_HeaderPerValueOverridesGlobal(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindHeader,
				&bucket.Params{Capacity: 3, RefillEvery: 2 * time.Minute},
				[]strategies.ValueBucket{
					{Value: "X-Token", Params: bucket.Params{Capacity: 1, RefillEvery: 100 * time.Second}},
				}),
		},
	})

	withToken := func() *strategies.Request {
		return request("192.0.2.1", "/", func(r *strategies.Request) {
			r.Header.Set("X-Token", "abc")
		})
	}

	assert.True(t, lim.Check(ctx, withToken()).Allowed)

	clk.Set(1)
	assert.False(t, lim.Check(ctx, withToken()).Allowed,
		"per-value bucket exhausted; global must not be consulted")

	// Requests without the header share the global bucket.
	clk.Set(0)
	for i := 0; i < 3; i++ {
		assert.True(t, lim.Check(ctx, request("192.0.2.1", "/", nil)).Allowed, "request %d", i)
		clk.Advance(time.Second)
	}
	assert.False(t, lim.Check(ctx, request("192.0.2.1", "/", nil)).Allowed)
}

// Two strategies are a conjunction: the stricter one denies first.
func TestCheck_StrategyConjunction(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindURL, nil, []strategies.ValueBucket{
				{Value: "/a", Params: bucket.Params{Capacity: 5, RefillEvery: time.Minute}},
			}),
			mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 2, RefillEvery: time.Minute}, nil),
		},
	})

	assert.True(t, lim.Check(ctx, request("192.0.2.1", "/a", nil)).Allowed)
	assert.True(t, lim.Check(ctx, request("192.0.2.1", "/a", nil)).Allowed)

	decision := lim.Check(ctx, request("192.0.2.1", "/a", nil))
	assert.False(t, decision.Allowed)
	assert.Equal(t, strategies.KindIP, decision.DeniedBy,
		"the ip bucket runs out before the url bucket")
}

func TestCheck_QueryPerValueBucket(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindQuery, nil, []strategies.ValueBucket{
				{Value: "user_id", Params: bucket.Params{Capacity: 1, RefillEvery: 30 * time.Second}},
			}),
		},
	})

	withUser := func(id string) *strategies.Request {
		return request("192.0.2.1", "/", func(r *strategies.Request) {
			r.Query.Set("user_id", id)
		})
	}

	assert.True(t, lim.Check(ctx, withUser("42")).Allowed)

	clk.Set(15)
	assert.False(t, lim.Check(ctx, withUser("42")).Allowed)
	assert.True(t, lim.Check(ctx, withUser("43")).Allowed, "distinct value is a distinct bucket")
}

func TestCheck_MissingExtractorIsNotDenial(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindHeader, nil, []strategies.ValueBucket{
				{Value: "X-Token", Params: bucket.Params{Capacity: 1, RefillEvery: time.Minute}},
			}),
		},
	})

	// No X-Token header: the check is skipped, never denied.
	for i := 0; i < 10; i++ {
		assert.True(t, lim.Check(ctx, request("192.0.2.1", "/", nil)).Allowed)
	}
}

func TestCheck_FailOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	strategy := mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 1, RefillEvery: time.Minute}, nil)

	t.Run("fail-open by default", func(t *testing.T) {
		lim := newTestLimiter(t, failingBackend{}, clk, Config{
			Strategies: []*strategies.Strategy{strategy},
		})

		decision := lim.Check(ctx, request("192.0.2.1", "/", nil))
		assert.True(t, decision.Allowed, "store outage must not reject requests")
		assert.True(t, decision.FailedOpen)
	})

	t.Run("fail-closed when configured", func(t *testing.T) {
		lim := newTestLimiter(t, failingBackend{}, clk, Config{
			Strategies: []*strategies.Strategy{strategy},
			FailClosed: true,
		})

		decision := lim.Check(ctx, request("192.0.2.1", "/", nil))
		assert.False(t, decision.Allowed)
		assert.Equal(t, strategies.KindIP, decision.DeniedBy)
	})
}

func TestCheck_OrderIndependenceForDistinctKeys(t *testing.T) {
	ctx := context.Background()
	clk := &clock{}
	clk.Set(0)

	lim := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 1, RefillEvery: time.Minute}, nil),
		},
	})

	// Requests with disjoint key sets commute.
	a1 := lim.Check(ctx, request("192.0.2.1", "/", nil))
	b1 := lim.Check(ctx, request("192.0.2.2", "/", nil))
	assert.True(t, a1.Allowed)
	assert.True(t, b1.Allowed)

	a2 := lim.Check(ctx, request("192.0.2.1", "/", nil))
	b2 := lim.Check(ctx, request("192.0.2.2", "/", nil))
	assert.False(t, a2.Allowed)
	assert.False(t, b2.Allowed)
}

func TestHasBodyStrategy(t *testing.T) {
	clk := &clock{}
	ipOnly := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindIP, &bucket.Params{Capacity: 1, RefillEvery: time.Second}, nil),
		},
	})
	assert.False(t, ipOnly.HasBodyStrategy())

	withBody := newTestLimiter(t, memory.New(), clk, Config{
		Strategies: []*strategies.Strategy{
			mustStrategy(t, strategies.KindBody, nil, []strategies.ValueBucket{
				{Value: "user_id", Params: bucket.Params{Capacity: 1, RefillEvery: time.Second}},
			}),
		},
	})
	assert.True(t, withBody.HasBodyStrategy())
}
