package jobqueue

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffNext(t *testing.T) {
	t.Parallel()

	custom := StrategyFunc(func(n int) time.Duration { return time.Duration(n) * time.Minute })

	cases := []struct {
		name     string
		backoff  Backoff
		attempts int
		custom   Strategy
		want     time.Duration
	}{
		{name: "fixed", backoff: Backoff{Kind: BackoffFixed, Delay: 3 * time.Second}, attempts: 4, want: 3 * time.Second},
		{name: "exponential first", backoff: Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}, attempts: 1, want: 5 * time.Second},
		{name: "exponential third", backoff: Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}, attempts: 3, want: 20 * time.Second},
		{name: "exponential zero attempts", backoff: Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}, attempts: 0, want: 0},
		{name: "custom strategy", backoff: Backoff{Kind: BackoffCustom}, attempts: 2, custom: custom, want: 2 * time.Minute},
		{name: "custom without strategy", backoff: Backoff{Kind: BackoffCustom, Delay: time.Second}, attempts: 2, want: time.Second},
		{name: "custom ignored for fixed", backoff: Backoff{Kind: BackoffFixed, Delay: time.Second}, attempts: 2, custom: custom, want: time.Second},
	}

	for _, tc := range cases {
		if got := tc.backoff.Next(tc.attempts, tc.custom); got != tc.want {
			t.Fatalf("%s: want %s got %s", tc.name, tc.want, got)
		}
	}
}

func TestExponentialSaturates(t *testing.T) {
	t.Parallel()

	if got := exponential(time.Hour, 200); got <= 0 {
		t.Fatalf("expected saturated positive delay, got %s", got)
	}
	if got := capDelay(exponential(time.Second, 30), time.Hour); got != time.Hour {
		t.Fatalf("expected cap at 1h, got %s", got)
	}
}

func TestJitterDeterministic(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(1))
	maxJitter := 200 * time.Millisecond

	got := jitter(r, maxJitter)
	if got < 0 || got > maxJitter {
		t.Fatalf("jitter out of range: %s", got)
	}

	r2 := rand.New(rand.NewSource(1))
	if got2 := jitter(r2, maxJitter); got2 != got {
		t.Fatalf("expected deterministic jitter; got %s and %s", got, got2)
	}
	if got := jitter(nil, maxJitter); got != 0 {
		t.Fatalf("expected no jitter without source, got %s", got)
	}
}
