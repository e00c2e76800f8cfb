// Package ratelimiter throttles inbound upload protocol messages with a
// token bucket per connection.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket wrapping golang.org/x/time/rate.
//
// Each inbound message consumes one token. The burst lets a client send a
// run of chunks back to back before the sustained rate applies.
//
// Thread safety:
// All methods are safe for concurrent use. A nil *RateLimiter allows
// everything.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter.
//
// Parameters:
//   - messagesPerSecond: Sustained rate. 0 disables limiting.
//   - burst: Bucket capacity. 0 defaults to messagesPerSecond.
func New(messagesPerSecond, burst uint) *RateLimiter {
	if messagesPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = messagesPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), int(burst)),
	}
}

// Allow reports whether one message may be handled now, consuming a token
// if so.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Unlimited reports whether the limiter never rejects.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter.Limit() == rate.Inf
}

// Factory hands out one limiter per connection so a noisy client only
// drains its own bucket.
type Factory struct {
	MessagesPerSecond uint
	Burst             uint
}

// ForConnection returns a fresh limiter, or nil when limiting is disabled.
func (f *Factory) ForConnection() *RateLimiter {
	if f == nil || f.MessagesPerSecond == 0 {
		return nil
	}
	return New(f.MessagesPerSecond, f.Burst)
}
