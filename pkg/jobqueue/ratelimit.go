package jobqueue

import (
	"context"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Limiter throttles job processing. Wait blocks until a slot is available or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RateLimiter is a Limiter backed by a ulule/limiter store, so several worker
// processes sharing a redis store also share the budget.
const minLimiterWait = 10 * time.Millisecond

type RateLimiter struct {
	l   *limiter.Limiter
	key string
}

func NewRateLimiter(store limiter.Store, rate limiter.Rate, key string) *RateLimiter {
	return &RateLimiter{l: limiter.New(store, rate), key: key}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		lctx, err := r.l.Get(ctx, r.key)
		if err != nil {
			return err
		}
		if !lctx.Reached {
			return nil
		}

		// Reset has second precision; never spin on a window that is about to roll over.
		wait := max(time.Until(time.Unix(lctx.Reset, 0)), minLimiterWait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// NewMemoryLimiterStore keeps the rate budget in process memory. Each process
// then enforces the rate on its own.
func NewMemoryLimiterStore() limiter.Store {
	return memory.NewStore()
}
