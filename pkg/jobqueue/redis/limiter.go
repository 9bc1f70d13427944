package redis

import (
	"github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	goredis "github.com/redis/go-redis/v9"
)

// NewLimiterStore shares a rate budget between every process using client.
func NewLimiterStore(client goredis.UniversalClient, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:          prefix,
		MaxRetry:        3,
		CleanUpInterval: limiter.DefaultCleanUpInterval,
	})
}
