// Package ratelimit implements the pluggable distributed rate-limiter
// backend described in spec §6: the in-process rate-limiter stage
// (internal/resilience) uses golang.org/x/time/rate by default, and
// optionally delegates token-bucket accounting to this package's Redis
// backend when a connection's limit must be enforced fleet-wide rather
// than per instance.
package ratelimit

import "context"

// Backend performs an atomic token-bucket check for key: given a bucket
// of maxTokens capacity refilling at refillRate tokens/second, consume
// requested tokens if available. It returns whether the request was
// allowed and the number of tokens left in the bucket.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (allowed bool, remaining int, err error)
}
