package strategies

import (
	"hash/fnv"
	"strconv"

	"github.com/makselll/rate-limiter/utils/builderpool"
)

// maxKeyLen bounds store keys; extracted values pushing a key past this
// are replaced by a hash of the value.
const maxKeyLen = 512

// storeKey builds the namespaced store key "rl:<kind>:<value>". Keys from
// different kinds never collide even when the extracted strings match.
func storeKey(kind Kind, value string) string {
	sb := builderpool.Get()
	defer builderpool.Put(sb)

	sb.WriteString("rl:")
	sb.WriteString(string(kind))
	sb.WriteString(":")

	if sb.Len()+len(value) > maxKeyLen {
		h := fnv.New64a()
		h.Write([]byte(value))
		sb.WriteString(strconv.FormatUint(h.Sum64(), 16))
	} else {
		sb.WriteString(value)
	}

	return sb.String()
}
