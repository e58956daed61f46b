package limiter

import "errors"

var (
	// ErrNilStore is returned when no bucket store backend is provided.
	ErrNilStore = errors.New("limiter requires a storage backend")

	// ErrNoStrategies is returned when no strategies are configured.
	ErrNoStrategies = errors.New("limiter requires at least one strategy")
)
