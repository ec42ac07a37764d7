package ai

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FanOut calls fn for every request with at most limit calls in flight and returns
// results parallel to reqs. A failed call leaves a nil result. Requests still waiting
// when ctx is canceled are not started and also yield nil. A nil limiter disables throttling.
func FanOut[Req, Resp any](ctx context.Context, reqs []Req, limit int, limiter *rate.Limiter, fn func(context.Context, Req) (*Resp, error)) []*Resp {
	results := make([]*Resp, len(reqs))
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range reqs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			resp, err := fn(ctx, reqs[i])
			if err != nil {
				slog.Warn("sub-request failed", "index", i, "error", err)
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// NewLimiter returns a limiter for rps requests per second, or nil when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
