package ratelimiter

import "golang.org/x/time/rate"

// Config describes the inbound frame budget of a single connection.
//
// A zero RequestsPerSecond disables limiting. A zero Burst defaults to
// twice the sustained rate.
type Config struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`
}

// Enabled reports whether the config limits anything.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// RateLimiter is a token bucket wrapped around golang.org/x/time/rate.
//
// The TCP transport keeps one per accepted connection and drops frames
// that arrive while the bucket is empty, so a chatty client cannot starve
// the tick thread.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained with the given
// burst capacity.
//
// Special cases:
//   - requestsPerSecond = 0: no limiting
//   - burst = 0: burst is set to 2x requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond * 2
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// FromConfig builds a limiter from cfg.
func FromConfig(cfg Config) *RateLimiter {
	return New(cfg.RequestsPerSecond, cfg.Burst)
}

// Allow consumes one token if available and reports whether it did.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Unlimited reports whether this limiter never rejects.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}
