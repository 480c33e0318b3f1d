// Package ratelimiter throttles directory operations with a token bucket.
//
// One RateLimiter is shared by every session created from the same
// configuration, so the limit applies to the server as a whole. Operations
// that find the bucket empty are rejected with resultCode busy instead of
// queueing behind a slow client.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter admits operations at a sustained rate with bursts.
//
// Tokens are added at requestsPerSecond and each admitted operation consumes
// one; up to burst tokens accumulate while the server is idle.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Parameters:
//   - requestsPerSecond: Sustained operation rate; 0 disables limiting
//   - burst: Bucket capacity; 0 uses requestsPerSecond
//
// Example:
//
//	// 500 operations/s sustained, bursts of 1000
//	limiter := ratelimiter.New(500, 1000)
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Unlimited reports whether the limiter admits everything.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
