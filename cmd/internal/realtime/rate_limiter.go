package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter caps inbound chat messages on one connection.
// It allows bursts of up to limit messages and refills at limit per window.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
	}
}

// Allow reports whether a message at time "now" should be accepted.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.lim.AllowN(now, 1)
}
