package memory

import (
	"github.com/makselll/rate-limiter/backends"
)

func init() {
	backends.Register("memory", func(config any) (backends.Backend, error) {
		return New(), nil
	})
}
