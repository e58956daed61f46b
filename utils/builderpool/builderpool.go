// Package builderpool recycles strings.Builder values for the hot paths
// that assemble store keys and bucket state strings.
package builderpool

import (
	"strings"
	"sync"
)

// Most keys and state strings fit well under this.
const initialSize = 64

var pool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// Get returns an empty builder pre-grown to a typical key size.
func Get() *strings.Builder {
	sb := pool.Get().(*strings.Builder)
	sb.Reset()
	sb.Grow(initialSize)
	return sb
}

// Put returns sb to the pool. The caller must not touch it afterwards.
func Put(sb *strings.Builder) {
	pool.Put(sb)
}
