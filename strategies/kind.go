package strategies

import "fmt"

// Kind determines how keys are extracted from a request.
type Kind string

const (
	KindIP     Kind = "ip"
	KindURL    Kind = "url"
	KindHeader Kind = "header"
	KindQuery  Kind = "query"
	KindBody   Kind = "body"
)

// ParseKind converts a configured strategy name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindIP, KindURL, KindHeader, KindQuery, KindBody:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown strategy kind %q", s)
	}
}

func (k Kind) String() string {
	return string(k)
}

// supportsGlobalBucket reports whether the kind accepts a global bucket.
// For query and body there is no meaningful "every distinct value" scope,
// so only per-value buckets are accepted.
func (k Kind) supportsGlobalBucket() bool {
	return k == KindIP || k == KindURL || k == KindHeader
}
