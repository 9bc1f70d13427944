package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobOptionsMergePrecedence(t *testing.T) {
	t.Parallel()

	base := DefaultJobOptions()
	require.Equal(t, 5, base.Attempts)

	got := base.Merge(Overrides{Attempts: 3}, Overrides{Attempts: 1})
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, BackoffExponential, got.Backoff.Kind)
	assert.Equal(t, 5*time.Second, got.Backoff.Delay)

	got = base.Merge(Overrides{Attempts: 3}, Overrides{})
	assert.Equal(t, 3, got.Attempts)
}

func TestJobOptionsMergeBackoffFields(t *testing.T) {
	t.Parallel()

	got := DefaultJobOptions().Merge(Overrides{Backoff: &Backoff{Kind: BackoffCustom}})
	assert.Equal(t, BackoffCustom, got.Backoff.Kind)
	assert.Equal(t, 5*time.Second, got.Backoff.Delay)

	got = got.Merge(Overrides{
		Backoff:   &Backoff{Delay: time.Second},
		Retention: &Retention{RemoveOnFail: false, KeepFor: time.Hour},
		JobID:     "fixed-id",
	})
	assert.Equal(t, BackoffCustom, got.Backoff.Kind)
	assert.Equal(t, time.Second, got.Backoff.Delay)
	assert.False(t, got.Retention.RemoveOnComplete)
	assert.Equal(t, time.Hour, got.Retention.KeepFor)
	assert.Equal(t, "fixed-id", got.JobID)
}

func TestJobOptionsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts JobOptions
		ok   bool
	}{
		{name: "defaults", opts: DefaultJobOptions(), ok: true},
		{name: "zero attempts", opts: JobOptions{Backoff: Backoff{Kind: BackoffFixed}}},
		{name: "unknown kind", opts: JobOptions{Attempts: 1, Backoff: Backoff{Kind: "linear"}}},
		{name: "negative delay", opts: JobOptions{Attempts: 1, Backoff: Backoff{Kind: BackoffFixed, Delay: -time.Second}}},
		{name: "spaced id", opts: JobOptions{Attempts: 1, Backoff: Backoff{Kind: BackoffFixed}, JobID: "a b"}},
	}

	for _, tc := range cases {
		err := tc.opts.Validate()
		if tc.ok {
			require.NoError(t, err, tc.name)
			continue
		}
		require.ErrorIs(t, err, ErrInvalidConfig, tc.name)
	}
}

func TestParseBackoffKind(t *testing.T) {
	t.Parallel()

	k, err := ParseBackoffKind(" Exponential ")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, k)

	_, err = ParseBackoffKind("linear")
	require.ErrorIs(t, err, ErrInvalidConfig)
}
