package configuration

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ulule/limiter/v3"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

// IntegrationOptions is one OUTBOUND_<NAME>_* block. Zero job settings keep
// the compiled-in defaults (5 attempts, exponential backoff from 5s).
type IntegrationOptions struct {
	Name string `env:"-"`

	Enabled       bool `env:"ENABLED" envDefault:"false"`
	Debug         bool `env:"DEBUG" envDefault:"false"`
	WorkerEnabled bool `env:"WORKER_ENABLED" envDefault:"true"`

	BaseURL string        `env:"BASE_URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`

	Attempts     int           `env:"ATTEMPTS"`
	Backoff      string        `env:"BACKOFF"` // fixed or exponential
	BackoffDelay time.Duration `env:"BACKOFF_DELAY"`
	Concurrency  int           `env:"CONCURRENCY" envDefault:"1"`
	// RateLimit uses the limiter's formatted rate, e.g. "10-S" or "1000-H".
	RateLimit string `env:"RATE_LIMIT"`

	BreakerEnabled  bool          `env:"BREAKER_ENABLED" envDefault:"false"`
	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`

	// SigningSecret signs each attempt; receivers verify with transport.VerifySignature.
	SigningSecret string `env:"SIGNING_SECRET"`

	TerminalOnClientError bool  `env:"TERMINAL_ON_CLIENT_ERROR" envDefault:"false"`
	TerminalStatuses      []int `env:"TERMINAL_STATUSES" envSeparator:","`
}

// EnvPrefix is the variable prefix of the integration called name: "crm-v2" reads OUTBOUND_CRM_V2_*.
func EnvPrefix(name string) string {
	return "OUTBOUND_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_"
}

func LoadIntegration(name string, environ map[string]string) (IntegrationOptions, error) {
	o := IntegrationOptions{Name: name}
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix(name), Environment: environ}); err != nil {
		return o, fmt.Errorf("integration %s: %w", name, err)
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func (o *IntegrationOptions) Validate() error {
	p := EnvPrefix(o.Name)
	if o.BaseURL != "" {
		u, err := url.Parse(o.BaseURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("invalid %sBASE_URL=%q (expected an absolute URL)", p, o.BaseURL)
		}
	}
	if o.Attempts < 0 {
		return fmt.Errorf("%sATTEMPTS must be non-negative, got %d", p, o.Attempts)
	}
	if o.Backoff != "" {
		kind, err := jobqueue.ParseBackoffKind(strings.ToLower(o.Backoff))
		if err != nil || kind == jobqueue.BackoffCustom {
			return fmt.Errorf("invalid %sBACKOFF=%q (expected fixed|exponential)", p, o.Backoff)
		}
	}
	if o.Concurrency < 1 {
		return fmt.Errorf("%sCONCURRENCY must be positive, got %d", p, o.Concurrency)
	}
	if o.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(o.RateLimit); err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT=%q: %w", p, o.RateLimit, err)
		}
	}
	for _, status := range o.TerminalStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("invalid %sTERMINAL_STATUSES entry %d", p, status)
		}
	}
	return nil
}

func (o *IntegrationOptions) classifier() outbound.Classifier {
	var cs []outbound.Classifier
	if o.TerminalOnClientError {
		cs = append(cs, outbound.TerminalOnClientError)
	}
	if len(o.TerminalStatuses) > 0 {
		cs = append(cs, outbound.TerminalOnStatus(o.TerminalStatuses...))
	}
	if len(cs) == 0 {
		return nil
	}
	return outbound.AnyOf(cs...)
}

// OutboundConfig maps the block onto a dispatcher configuration. rateStore
// backs RATE_LIMIT and may be nil when the integration has none.
func (o *IntegrationOptions) OutboundConfig(shared OutboundOptions, rateStore limiter.Store) (outbound.Config, error) {
	cfg := outbound.Config{
		Name:          o.Name,
		Enabled:       o.Enabled,
		Debug:         o.Debug,
		DisableWorker: !o.WorkerEnabled,
		SigningSecret: o.SigningSecret,
		Classifier:    o.classifier(),
		Transport: transport.Config{
			BaseURL: o.BaseURL,
			Timeout: o.Timeout,
		},
		Queue: jobqueue.Overrides{Attempts: o.Attempts},
		Worker: outbound.WorkerOverrides{
			Concurrency:            o.Concurrency,
			PollInterval:           shared.PollInterval,
			LockTTL:                shared.LockTTL,
			ShutdownGrace:          shared.ShutdownGrace,
			MaxBackoff:             shared.MaxBackoff,
			ObserveQueueDepthEvery: shared.ObserveDepthEvery,
		},
	}

	if o.Backoff != "" || o.BackoffDelay > 0 {
		b := jobqueue.DefaultJobOptions().Backoff
		if kind, err := jobqueue.ParseBackoffKind(o.Backoff); err == nil {
			b.Kind = kind
		}
		if o.BackoffDelay > 0 {
			b.Delay = o.BackoffDelay
		}
		cfg.Queue.Backoff = &b
	}

	if o.BreakerEnabled {
		cfg.Breaker = &transport.BreakerConfig{
			Name:                outbound.QueueName(o.Name),
			Timeout:             o.BreakerTimeout,
			ConsecutiveFailures: o.BreakerFailures,
		}
	}

	if o.RateLimit != "" {
		if rateStore == nil {
			return cfg, fmt.Errorf("integration %s: RATE_LIMIT is set but no rate limit store was provided", o.Name)
		}
		rate, err := limiter.NewRateFromFormatted(o.RateLimit)
		if err != nil {
			return cfg, err
		}
		cfg.Worker.Limiter = jobqueue.NewRateLimiter(rateStore, rate, outbound.QueueName(o.Name))
	}
	return cfg, nil
}
