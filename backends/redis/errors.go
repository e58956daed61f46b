package redis

import (
	"errors"
	"fmt"
)

// ErrConnectionFailed is the match target for errors reported by New when
// the initial ping fails.
var ErrConnectionFailed = errors.New("failed to connect to redis")

func NewConnectionFailedError(addr string, err error) error {
	return fmt.Errorf("%w at %s: %w", ErrConnectionFailed, addr, err)
}

func NewGetFailedError(key string, err error) error {
	return fmt.Errorf("failed to get key '%s': %w", key, err)
}

func NewDeleteFailedError(key string, err error) error {
	return fmt.Errorf("failed to delete key '%s': %w", key, err)
}

func NewCloseFailedError(err error) error {
	return fmt.Errorf("failed to close redis connection: %w", err)
}

func NewEvalFailedError(err error) error {
	return fmt.Errorf("failed to evaluate check-and-set script: %w", err)
}
