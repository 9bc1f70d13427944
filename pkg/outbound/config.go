package outbound

import (
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config is fixed at construction and shared read-only by every part of a Dispatcher.
type Config struct {
	// Name namespaces the queue and tags every log line.
	Name    string
	Enabled bool
	// Debug turns on completion logging.
	Debug bool
	// DisableWorker keeps this process from consuming the queue. Jobs still
	// accumulate and another process may consume them.
	DisableWorker bool

	Classifier        Classifier
	OnTerminalFailure func(err error)
	// DebugLogTransform replaces the default redacted view in completion logs.
	DebugLogTransform func(job *jobqueue.Job) any

	Transport     transport.Config
	// Breaker wraps the transport in a circuit breaker when set.
	Breaker       *transport.BreakerConfig
	// SigningSecret, when set, signs every attempt with an HMAC header.
	SigningSecret string

	// Queue overrides the compiled-in job defaults for every call.
	Queue  jobqueue.Overrides
	Worker WorkerOverrides
}

// WorkerOverrides are merged over jobqueue's worker defaults. Zero fields keep the default.
type WorkerOverrides struct {
	Concurrency int
	// BackoffStrategy, when set, makes every job use custom backoff.
	BackoffStrategy        jobqueue.Strategy
	PollInterval           time.Duration
	LockTTL                time.Duration
	ShutdownGrace          time.Duration
	MaxBackoff             time.Duration
	JitterMax              time.Duration
	Limiter                jobqueue.Limiter
	ObserveQueueDepthEvery time.Duration
}

func (w WorkerOverrides) options(log *logrus.Entry) jobqueue.WorkerOptions {
	return jobqueue.WorkerOptions{
		Concurrency:            w.Concurrency,
		PollInterval:           w.PollInterval,
		LockTTL:                w.LockTTL,
		ShutdownGrace:          w.ShutdownGrace,
		BackoffStrategy:        w.BackoffStrategy,
		MaxBackoff:             w.MaxBackoff,
		JitterMax:              w.JitterMax,
		Limiter:                w.Limiter,
		ObserveQueueDepthEvery: w.ObserveQueueDepthEvery,
		Logger:                 log,
	}
}

// Dependencies are the collaborators a Dispatcher does not own the construction of.
type Dependencies struct {
	// Connector opens the broker connections. Required when the integration is enabled.
	Connector jobqueue.Connector
	// Transport overrides the HTTP transport built from Config.Transport.
	Transport transport.Transport
	Logger    *logrus.Entry
}

// QueueName is the queue used by the integration called name. It is stable
// across restarts so jobs enqueued before a deploy are consumed after it.
func QueueName(name string) string {
	return "outbound-" + name
}

func (c Config) Validate() error {
	if !namePattern.MatchString(c.Name) {
		return invalidConfig("name %q must match %s", c.Name, namePattern)
	}
	if c.Worker.Concurrency < 0 {
		return invalidConfig("%s: worker concurrency must be positive, got %d", c.Name, c.Worker.Concurrency)
	}
	if err := c.jobDefaults().Validate(); err != nil {
		return invalidConfig("%s: queue overrides: %v", c.Name, err)
	}
	return nil
}

// jobDefaults merges the compiled-in defaults with the integration overrides.
func (c Config) jobDefaults() jobqueue.JobOptions {
	layers := []jobqueue.Overrides{c.Queue}
	if c.Worker.BackoffStrategy != nil {
		layers = append(layers, jobqueue.Overrides{Backoff: &jobqueue.Backoff{Kind: jobqueue.BackoffCustom}})
	}
	return jobqueue.DefaultJobOptions().Merge(layers...)
}
