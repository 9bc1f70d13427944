package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3"
)

func TestLimiterStore_SharesBudget(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rate := limiter.Rate{Period: time.Minute, Limit: 1}

	newLimiter := func() *limiter.Limiter {
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		store, err := NewLimiterStore(client, "outbound:ratelimit")
		require.NoError(t, err)
		return limiter.New(store, rate)
	}
	a, b := newLimiter(), newLimiter()

	first, err := a.Get(ctx, "outbound-crm")
	require.NoError(t, err)
	assert.False(t, first.Reached)

	second, err := b.Get(ctx, "outbound-crm")
	require.NoError(t, err)
	assert.True(t, second.Reached)

	other, err := b.Get(ctx, "outbound-erp")
	require.NoError(t, err)
	assert.False(t, other.Reached)
}
