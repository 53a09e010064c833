// Package papersources provides the throttled HTTP layer and the source
// abstraction used by the sync engine to list and fetch literature records.
package papersources

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a request-rate ceiling with a token bucket. It is safe
// for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing ratePerSecond sustained requests
// with the given burst. PubMed documents 3 req/s without an API key and 10
// with one, so NewRateLimiter(3, 1) yields a strict 333ms minimum interval.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// SetRate updates the sustained rate, keeping the burst.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// Rate returns the configured sustained rate.
func (r *RateLimiter) Rate() float64 {
	return float64(r.limiter.Limit())
}

// MinInterval is the minimum spacing between requests once the burst is spent.
func (r *RateLimiter) MinInterval() time.Duration {
	limit := r.limiter.Limit()
	if limit <= 0 || limit == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
