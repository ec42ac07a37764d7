package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestsPerSecond is the per-client sustained rate.
	DefaultRequestsPerSecond = 10
	// DefaultBurst is the per-client burst size.
	DefaultBurst = 20
)

// RateLimiter provides per-key rate limiting.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	rps    rate.Limit
	burst  int
}

// NewRateLimiter creates a rate limiter allowing rps requests per second per key.
// Non-positive values fall back to the defaults.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		rps:    rate.Limit(rps),
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or the wait would exceed its deadline.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// RateLimit rejects requests over the per-client limit with 429. Clients are keyed by real IP.
func RateLimit(rl *RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}
