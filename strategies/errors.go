package strategies

import "fmt"

func NewEmptyStrategyError(kind Kind) error {
	return fmt.Errorf("%s strategy needs a global bucket or at least one per-value bucket", kind)
}

func NewGlobalBucketNotAllowedError(kind Kind) error {
	return fmt.Errorf("%s strategy does not accept a global bucket, only per-value buckets", kind)
}

func NewEmptyValueError(kind Kind) error {
	return fmt.Errorf("%s strategy has a per-value bucket with an empty value", kind)
}

func NewBucketParamsError(kind Kind, err error) error {
	return fmt.Errorf("%s strategy: %w", kind, err)
}
