package strategies

import (
	"github.com/makselll/rate-limiter/bucket"
)

// ValueBucket pairs a configured value with its own bucket parameters,
// overriding the strategy's global bucket for that value. The meaning of
// Value depends on the strategy kind: an exact path for url, a header
// name for header, a parameter name for query, a field name for body,
// and an exact client IP for ip.
type ValueBucket struct {
	Value  string
	Params bucket.Params
}

// Strategy is one configured rate-limiting rule: a key extraction kind,
// an optional global bucket applied to every distinct extracted value,
// and per-value buckets overriding it for enumerated values. Immutable
// after construction.
type Strategy struct {
	kind     Kind
	global   *bucket.Params
	perValue []ValueBucket
}

// Check is one bucket consultation to perform for a request: a namespaced
// store key and the parameters of the bucket living under it.
type Check struct {
	Key    string
	Params bucket.Params
}

// New validates and builds a strategy.
func New(kind Kind, global *bucket.Params, perValue []ValueBucket) (*Strategy, error) {
	if global == nil && len(perValue) == 0 {
		return nil, NewEmptyStrategyError(kind)
	}
	if global != nil {
		if !kind.supportsGlobalBucket() {
			return nil, NewGlobalBucketNotAllowedError(kind)
		}
		if err := global.Validate(); err != nil {
			return nil, NewBucketParamsError(kind, err)
		}
	}
	for _, vb := range perValue {
		if vb.Value == "" {
			return nil, NewEmptyValueError(kind)
		}
		if err := vb.Params.Validate(); err != nil {
			return nil, NewBucketParamsError(kind, err)
		}
	}

	return &Strategy{
		kind:     kind,
		global:   global,
		perValue: perValue,
	}, nil
}

func (s *Strategy) Kind() Kind {
	return s.kind
}

// Checks derives the set of bucket consultations for one request. An
// extraction miss (absent header, missing query parameter, unparseable
// body) yields no check for that entry; it is never a denial. When a
// request's value is covered by both a per-value bucket and the global
// bucket, only the per-value check is emitted.
func (s *Strategy) Checks(req *Request) []Check {
	switch s.kind {
	case KindIP:
		return s.singleValueChecks(req.ClientIP)
	case KindURL:
		return s.singleValueChecks(req.Path)
	case KindHeader:
		return s.headerChecks(req)
	case KindQuery:
		return s.lookupChecks(func(name string) (string, bool) {
			if !req.Query.Has(name) {
				return "", false
			}
			return req.Query.Get(name), true
		})
	case KindBody:
		return s.lookupChecks(req.BodyField)
	default:
		return nil
	}
}

// singleValueChecks handles the ip and url kinds, where the request
// yields exactly one candidate value. A per-value bucket matching it
// exactly wins over the global bucket; the global bucket keys one bucket
// per distinct value under this strategy.
func (s *Strategy) singleValueChecks(value string) []Check {
	for _, vb := range s.perValue {
		if vb.Value == value {
			return []Check{{Key: storeKey(s.kind, value), Params: vb.Params}}
		}
	}
	if s.global != nil {
		return []Check{{Key: storeKey(s.kind, value), Params: *s.global}}
	}
	return nil
}

// headerChecks consumes header values. Per-value entries name headers
// whose presence keys a bucket on "name:value". The global bucket is
// consulted only when no configured header matched; it keys on the
// Authorization value when one is present and on the shared value "*"
// otherwise, so unidentified clients share one bucket.
func (s *Strategy) headerChecks(req *Request) []Check {
	var checks []Check
	for _, vb := range s.perValue {
		values := req.Header.Values(vb.Value)
		if len(values) == 0 {
			continue
		}
		checks = append(checks, Check{
			Key:    storeKey(s.kind, vb.Value+":"+values[0]),
			Params: vb.Params,
		})
	}

	if len(checks) == 0 && s.global != nil {
		value := req.Header.Get("Authorization")
		if value == "" {
			value = "*"
		}
		checks = append(checks, Check{
			Key:    storeKey(s.kind, value),
			Params: *s.global,
		})
	}

	return checks
}

// lookupChecks handles the query and body kinds: per-value entries name
// parameters or fields whose extracted value keys the bucket. Presence is
// what counts, so an entry carrying an empty value still keys a bucket.
func (s *Strategy) lookupChecks(lookup func(name string) (string, bool)) []Check {
	var checks []Check
	for _, vb := range s.perValue {
		value, ok := lookup(vb.Value)
		if !ok {
			continue
		}
		checks = append(checks, Check{
			Key:    storeKey(s.kind, vb.Value+":"+value),
			Params: vb.Params,
		})
	}
	return checks
}
