package jobqueue

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before the next run of a job that has failed
// attemptsMade times.
type Strategy interface {
	Delay(attemptsMade int) time.Duration
}

type StrategyFunc func(attemptsMade int) time.Duration

func (f StrategyFunc) Delay(attemptsMade int) time.Duration { return f(attemptsMade) }

// Next returns the delay for the job's backoff kind. Custom kinds use custom;
// without a strategy they fall back to the fixed delay.
func (b Backoff) Next(attemptsMade int, custom Strategy) time.Duration {
	switch b.Kind {
	case BackoffExponential:
		return exponential(b.Delay, attemptsMade)
	case BackoffCustom:
		if custom != nil {
			if d := custom.Delay(attemptsMade); d > 0 {
				return d
			}
			return 0
		}
		return b.Delay
	case BackoffFixed:
		return b.Delay
	default:
		return b.Delay
	}
}

// exponential returns base * 2^(attempts-1), saturating instead of overflowing.
func exponential(base time.Duration, attempts int) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := float64(base) * math.Pow(2, float64(attempts-1))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func capDelay(d, maxBackoff time.Duration) time.Duration {
	if maxBackoff > 0 && d > maxBackoff {
		return maxBackoff
	}
	return d
}

func jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	if r == nil {
		return 0
	}
	// [0, maxJitter]
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}
