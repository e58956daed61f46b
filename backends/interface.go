package backends

import (
	"context"
	"time"
)

// Backend defines the storage interface the token bucket engine runs on.
// Implementations shared across proxy replicas (redis, postgres) must make
// CheckAndSet atomic with respect to concurrent callers on the same key.
type Backend interface {
	// Get retrieves a value from storage. A missing or expired key
	// returns "" with no error.
	Get(ctx context.Context, key string) (string, error)

	// CheckAndSet atomically sets key to newValue only if the current value
	// matches oldValue. oldValue="" means "only set if key doesn't exist".
	// Returns true if the set was applied.
	CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error)

	// Delete removes a key from storage.
	Delete(ctx context.Context, key string) error

	// Close releases resources used by the storage backend.
	Close() error
}
