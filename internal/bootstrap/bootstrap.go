// Package bootstrap turns a Configuration into running integrations.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/outbound/pkg/configuration"
	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/jobqueue/redis"
	"github.com/iota-uz/outbound/pkg/outbound"
	"github.com/iota-uz/outbound/pkg/scheduler"
)

type Options struct {
	// Scheduler runs the cron jobs in this process when cron is enabled.
	Scheduler bool
	// NoWorkers builds producer-only integrations, for tools that enqueue or
	// inspect but must never consume.
	NoWorkers bool
}

type Runtime struct {
	Registry *outbound.Registry
	// Scheduler is nil unless requested and enabled.
	Scheduler *scheduler.Scheduler

	log     *logrus.Entry
	closers []func() error
}

func New(conf *configuration.Configuration, log *logrus.Entry, opts Options) (*Runtime, error) {
	rt := &Runtime{Registry: outbound.NewRegistry(), log: log}

	redisOpts, err := conf.Redis.ClientOptions()
	if err != nil {
		return nil, err
	}
	connector := redis.NewConnector(redis.ConnectorOptions{
		Redis: redisOpts,
		ConnectionNames: map[jobqueue.Role]string{
			jobqueue.RoleQueue:  conf.Outbound.QueueNamespace,
			jobqueue.RoleWorker: conf.Outbound.WorkerNamespace,
		},
		Store: redis.Options{
			Prefix:           conf.Outbound.KeyPrefix,
			DeadLetterMaxLen: conf.Outbound.DeadLetterMaxLen,
			Logger:           log,
		},
	})

	rateStore, err := rt.rateStore(conf, redisOpts)
	if err != nil {
		return nil, err
	}

	for _, ic := range conf.Integrations {
		cfg, err := ic.OutboundConfig(conf.Outbound, rateStore)
		if err != nil {
			rt.closeResources()
			return nil, err
		}
		if opts.NoWorkers {
			cfg.DisableWorker = true
		}
		client, err := outbound.New(cfg, outbound.Dependencies{Connector: connector, Logger: log})
		if err != nil {
			rt.closeResources()
			return nil, err
		}
		if err := rt.Registry.Register(client); err != nil {
			rt.closeResources()
			return nil, err
		}
	}

	if opts.Scheduler && conf.Cron.Enabled {
		var entries []scheduler.Entry
		if conf.Cron.QueueDepthSchedule != "" {
			entries = append(entries, scheduler.Entry{Kind: scheduler.KindQueueDepthReport, Schedule: conf.Cron.QueueDepthSchedule})
		}
		if conf.Cron.DeadLetterSchedule != "" {
			entries = append(entries, scheduler.Entry{Kind: scheduler.KindDeadLetterSweep, Schedule: conf.Cron.DeadLetterSchedule})
		}
		s, err := scheduler.New(scheduler.Config{
			Entries:             entries,
			DeadLetterRetention: conf.Cron.DeadLetterRetention,
			Worker: jobqueue.WorkerOptions{
				PollInterval:  conf.Outbound.PollInterval,
				LockTTL:       conf.Outbound.LockTTL,
				ShutdownGrace: conf.Outbound.ShutdownGrace,
			},
		}, scheduler.Dependencies{Connector: connector, Integrations: rt.Registry, Logger: log})
		if err != nil {
			rt.closeResources()
			return nil, err
		}
		rt.Scheduler = s
	}
	return rt, nil
}

// rateStore builds the limiter store only when some integration sets RATE_LIMIT.
func (rt *Runtime) rateStore(conf *configuration.Configuration, redisOpts *goredis.Options) (limiter.Store, error) {
	needed := false
	for _, ic := range conf.Integrations {
		if ic.RateLimit != "" {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	if conf.RateLimit.Storage != "redis" {
		return jobqueue.NewMemoryLimiterStore(), nil
	}
	client := goredis.NewClient(redisOpts)
	store, err := redis.NewLimiterStore(client, conf.RateLimit.Prefix)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	rt.closers = append(rt.closers, client.Close)
	return store, nil
}

func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Registry.Start(ctx); err != nil {
		return err
	}
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	for _, name := range rt.Registry.Names() {
		client, _ := rt.Registry.Get(name)
		rt.log.WithFields(logrus.Fields{
			"integration": name,
			"enabled":     client.Enabled(),
			"state":       client.State().String(),
		}).Info("outbound: integration started")
	}
	return nil
}

// Close stops the scheduler first so no housekeeping runs against draining
// integrations, then drains every integration.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Scheduler != nil {
		errs = append(errs, rt.Scheduler.Close(ctx))
	}
	errs = append(errs, rt.Registry.Close(ctx))
	errs = append(errs, rt.closeResources())
	return errors.Join(errs...)
}

func (rt *Runtime) closeResources() error {
	var errs []error
	for _, c := range rt.closers {
		errs = append(errs, c())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
