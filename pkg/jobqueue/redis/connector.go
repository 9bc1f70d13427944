package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iota-uz/outbound/pkg/jobqueue"
)

type ConnectorOptions struct {
	// Redis is the base client configuration; each role gets its own copy.
	Redis *goredis.Options
	// ConnectionNames sets CLIENT SETNAME per role so queue and worker
	// connections can be told apart on the server.
	ConnectionNames map[jobqueue.Role]string
	Store           Options
}

// NewConnector opens a dedicated client per role. Keys are shared across roles,
// only the connection differs.
func NewConnector(opts ConnectorOptions) jobqueue.Connector {
	return func(role jobqueue.Role) (jobqueue.Store, error) {
		if opts.Redis == nil {
			return nil, fmt.Errorf("%w: redis options are required", jobqueue.ErrInvalidConfig)
		}
		ro := *opts.Redis
		if name := opts.ConnectionNames[role]; name != "" {
			base := ro.OnConnect
			ro.OnConnect = func(ctx context.Context, cn *goredis.Conn) error {
				// Not every server accepts CLIENT SETNAME; the name is informational.
				_ = cn.ClientSetName(ctx, name).Err()
				if base != nil {
					return base(ctx, cn)
				}
				return nil
			}
		}
		return New(goredis.NewClient(&ro), opts.Store), nil
	}
}

// ParseURL is a thin wrapper that keeps callers off the go-redis import.
func ParseURL(url string) (*goredis.Options, error) {
	return goredis.ParseURL(url)
}
