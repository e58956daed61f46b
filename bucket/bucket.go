// Package bucket implements the distributed token bucket algorithm.
//
// Bucket state lives in a shared backend as a compact string; the single
// primitive exposed here, TryConsume, refills by whole intervals and spends
// one token under an optimistic compare-and-set loop, so any number of
// proxy replicas cooperate on the same counters.
package bucket

import (
	"context"
	"time"

	"github.com/makselll/rate-limiter/backends"
)

// DefaultMaxRetries is the maximum number of CheckAndSet attempts before
// giving up on a contended key.
const DefaultMaxRetries = 30

// Params is the refill policy of one bucket: the capacity granted at
// creation and the wall-clock interval that must elapse to add one token.
// Immutable once configured.
type Params struct {
	Capacity    int           // Maximum tokens the bucket ever holds
	RefillEvery time.Duration // Time to add one token
}

func (p Params) Validate() error {
	if p.Capacity <= 0 {
		return NewInvalidCapacityError(p.Capacity)
	}
	if p.RefillEvery < time.Second {
		return NewInvalidRefillIntervalError(p.RefillEvery)
	}
	return nil
}

// expiration returns the TTL for stored state. A bucket idle long enough
// to refill completely plus one interval carries no information, so it
// may be evicted; re-creation on next reference is a fresh full bucket.
func (p Params) expiration() time.Duration {
	return time.Duration(p.Capacity+1) * p.RefillEvery
}

// Outcome is the result of one TryConsume call.
type Outcome int

const (
	// Admitted means a token was available after refill and has been spent.
	Admitted Outcome = iota
	// Denied means refill was applied and no token remained.
	Denied
)

// TryConsume atomically spends one token from the bucket stored under key,
// refilling it first according to params. A missing key is treated as a
// freshly filled bucket, so the first request on an unseen key is always
// admitted. Exactly one of the outcomes is returned; a non-nil error means
// the store was unreachable or returned an inconsistent result, and the
// outcome must be ignored.
func TryConsume(ctx context.Context, storage backends.Backend, key string, params Params, now time.Time) (Outcome, error) {
	for attempt := 0; attempt < DefaultMaxRetries; attempt++ {
		if ctx.Err() != nil {
			return Denied, NewContextCancelledError(ctx.Err())
		}

		data, err := storage.Get(ctx, key)
		if err != nil {
			return Denied, NewStateRetrievalError(err)
		}

		var state State
		if data == "" {
			state = State{
				Tokens:       params.Capacity,
				LastRefillAt: now,
			}
		} else {
			s, ok := decodeState(data)
			if !ok {
				return Denied, ErrStateParsing
			}
			state = s.refill(params, now)
		}

		if state.Tokens < 1 {
			// Refill added nothing, so the stored state is unchanged and
			// no write is needed; deny without charging anyone.
			return Denied, nil
		}

		state.Tokens--

		success, err := storage.CheckAndSet(ctx, key, data, encodeState(state), params.expiration())
		if err != nil {
			return Denied, NewStateSaveError(err)
		}
		if success {
			return Admitted, nil
		}

		// Lost the race against a concurrent consumer; back off and retry.
		if attempt < DefaultMaxRetries-1 {
			time.Sleep((19 * time.Nanosecond) << time.Duration(attempt%8))
		}
	}

	return Denied, ErrConcurrentAccess
}
