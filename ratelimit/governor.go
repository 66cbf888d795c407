// Package ratelimit provides the process-wide rate governor shared by every
// provider-calling goroutine (both ingestion loops, and any future backfill
// path). It enforces a single ceiling on the combined issued-request rate.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Governor serializes acquisitions so the aggregate rate across all callers
// never exceeds the configured ceiling. It is safe for concurrent use.
type Governor struct {
	limiter *rate.Limiter
}

// NewGovernor builds a governor enforcing at most maxPerMinute acquisitions
// across any 60-second window. maxPerMinute must be > 0.
func NewGovernor(maxPerMinute int) *Governor {
	if maxPerMinute <= 0 {
		maxPerMinute = 1
	}
	// Burst of 1: no caller may front-run the minimum inter-call delay by
	// accumulating credit while idle, rather than the bursty token-bucket
	// behavior x/time/rate would otherwise allow.
	return &Governor{
		limiter: rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), 1),
	}
}

// Acquire blocks until the next call is permitted under the configured
// ceiling, or ctx is canceled. A cancellation here is observed immediately,
// per the pipeline's cancellation contract.
func (g *Governor) Acquire(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
