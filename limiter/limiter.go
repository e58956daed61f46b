// Package limiter evaluates requests against the configured rate-limiting
// strategies and produces the admission decision.
package limiter

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/makselll/rate-limiter/backends"
	"github.com/makselll/rate-limiter/bucket"
	"github.com/makselll/rate-limiter/strategies"
)

// DefaultCheckTimeout bounds each bucket consultation. A slow store must
// not stall the request for longer than this; the timeout is reported as
// a store error and handled by the fail-open policy.
const DefaultCheckTimeout = 100 * time.Millisecond

// Config configures a Limiter. Construction-time only; immutable during
// service lifetime.
type Config struct {
	Store        backends.Backend
	Strategies   []*strategies.Strategy
	IPWhitelist  []netip.Addr
	FailClosed   bool          // deny instead of admit on store errors
	CheckTimeout time.Duration // per bucket consultation, DefaultCheckTimeout if zero
	Logger       *zap.Logger
	Now          func() time.Time // defaults to time.Now, override in tests
}

// Decision is the admission outcome for one request.
type Decision struct {
	Allowed    bool
	DeniedBy   strategies.Kind // kind of the denying strategy, when not allowed
	FailedOpen bool            // admitted despite one or more store errors
}

// Limiter is the top-level evaluator: a whitelist check plus a
// conjunction over all configured strategies. Free of shared mutable
// state; all coordination happens in the bucket store.
type Limiter struct {
	store        backends.Backend
	strategies   []*strategies.Strategy
	whitelist    map[netip.Addr]struct{}
	failClosed   bool
	checkTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func New(config Config) (*Limiter, error) {
	if config.Store == nil {
		return nil, ErrNilStore
	}
	if len(config.Strategies) == 0 {
		return nil, ErrNoStrategies
	}

	whitelist := make(map[netip.Addr]struct{}, len(config.IPWhitelist))
	for _, addr := range config.IPWhitelist {
		whitelist[addr] = struct{}{}
	}

	timeout := config.CheckTimeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Limiter{
		store:        config.Store,
		strategies:   config.Strategies,
		whitelist:    whitelist,
		failClosed:   config.FailClosed,
		checkTimeout: timeout,
		logger:       logger,
		now:          now,
	}, nil
}

// HasBodyStrategy reports whether any configured strategy extracts keys
// from the request body, in which case the caller must buffer the body
// before evaluation.
func (l *Limiter) HasBodyStrategy() bool {
	for _, s := range l.strategies {
		if s.Kind() == strategies.KindBody {
			return true
		}
	}
	return false
}

// Check evaluates one request. Whitelisted clients are admitted without
// consulting any bucket. Otherwise every strategy must admit; the first
// denying bucket short-circuits the remaining checks. Store errors admit
// by default (fail-open) so a limiter outage never becomes an outage of
// the upstream.
func (l *Limiter) Check(ctx context.Context, req *strategies.Request) Decision {
	if addr, err := netip.ParseAddr(req.ClientIP); err == nil {
		if _, ok := l.whitelist[addr]; ok {
			return Decision{Allowed: true}
		}
	}

	failedOpen := false
	for _, strategy := range l.strategies {
		for _, check := range strategy.Checks(req) {
			if ctx.Err() != nil {
				// Client is gone; abort remaining checks. Tokens already
				// consumed are not refunded.
				return Decision{Allowed: false, DeniedBy: strategy.Kind()}
			}

			outcome, err := l.tryConsume(ctx, check)
			if err != nil {
				l.logger.Error("bucket store check failed",
					zap.String("strategy", strategy.Kind().String()),
					zap.String("key", check.Key),
					zap.Bool("fail_closed", l.failClosed),
					zap.Error(err),
				)
				if l.failClosed {
					return Decision{Allowed: false, DeniedBy: strategy.Kind()}
				}
				failedOpen = true
				continue
			}

			if outcome == bucket.Denied {
				l.logger.Debug("request denied",
					zap.String("strategy", strategy.Kind().String()),
					zap.String("key", check.Key),
				)
				return Decision{Allowed: false, DeniedBy: strategy.Kind()}
			}
		}
	}

	return Decision{Allowed: true, FailedOpen: failedOpen}
}

func (l *Limiter) tryConsume(ctx context.Context, check strategies.Check) (bucket.Outcome, error) {
	checkCtx, cancel := context.WithTimeout(ctx, l.checkTimeout)
	defer cancel()

	return bucket.TryConsume(checkCtx, l.store, check.Key, check.Params, l.now())
}
