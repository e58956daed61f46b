package bucket

import (
	"strconv"
	"strings"
	"time"

	"github.com/makselll/rate-limiter/utils/builderpool"
)

// State is the live state of one key's bucket: remaining tokens and the
// time of the last applied refill, in whole seconds.
type State struct {
	Tokens       int
	LastRefillAt time.Time
}

// refill adds one token per whole elapsed interval, capped at capacity.
// LastRefillAt advances by exactly the credited intervals, never to now;
// advancing to now would systematically under-refill buckets accessed
// more often than once per interval.
func (s State) refill(params Params, now time.Time) State {
	elapsed := now.Sub(s.LastRefillAt)
	if elapsed < params.RefillEvery {
		return s
	}

	intervals := int64(elapsed / params.RefillEvery)
	tokens := s.Tokens + int(intervals)
	if tokens > params.Capacity || tokens < 0 {
		tokens = params.Capacity
	}

	return State{
		Tokens:       tokens,
		LastRefillAt: s.LastRefillAt.Add(time.Duration(intervals) * params.RefillEvery),
	}
}

// encodeState serializes State into a compact ASCII format:
// v1|tokens|lastrefill_unix
func encodeState(s State) string {
	sb := builderpool.Get()
	defer builderpool.Put(sb)

	sb.WriteString("v1|")
	sb.WriteString(strconv.Itoa(s.Tokens))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(s.LastRefillAt.Unix(), 10))
	return sb.String()
}

// decodeState deserializes from compact format; returns ok=false on any
// malformed input.
func decodeState(data string) (State, bool) {
	rest, ok := strings.CutPrefix(data, "v1|")
	if !ok {
		return State{}, false
	}

	tokensStr, lastStr, ok := strings.Cut(rest, "|")
	if !ok {
		return State{}, false
	}

	tokens, err1 := strconv.Atoi(tokensStr)
	last, err2 := strconv.ParseInt(lastStr, 10, 64)
	if err1 != nil || err2 != nil || tokens < 0 {
		return State{}, false
	}

	return State{
		Tokens:       tokens,
		LastRefillAt: time.Unix(last, 0),
	}, true
}
