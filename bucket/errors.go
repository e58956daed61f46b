package bucket

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStateParsing is returned when stored bucket state cannot be decoded.
	ErrStateParsing = errors.New("failed to parse bucket state")

	// ErrConcurrentAccess is returned when CheckAndSet keeps losing against
	// concurrent consumers after all retry attempts.
	ErrConcurrentAccess = errors.New("too many concurrent updates on bucket")
)

func NewInvalidCapacityError(capacity int) error {
	return fmt.Errorf("bucket capacity must be positive, got %d", capacity)
}

func NewInvalidRefillIntervalError(interval time.Duration) error {
	return fmt.Errorf("bucket refill interval must be at least one second, got %v", interval)
}

func NewStateRetrievalError(err error) error {
	return fmt.Errorf("failed to retrieve bucket state: %w", err)
}

func NewStateSaveError(err error) error {
	return fmt.Errorf("failed to save bucket state: %w", err)
}

func NewContextCancelledError(err error) error {
	return fmt.Errorf("bucket operation cancelled: %w", err)
}
