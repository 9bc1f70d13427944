package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/iota-uz/outbound/pkg/logging"
)

type BreakerConfig struct {
	Name string
	// MaxRequests is the number of probes let through while half-open.
	MaxRequests uint32
	// Interval resets the closed-state counters; zero never resets them.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout             time.Duration
	ConsecutiveFailures uint32
	Logger              *logrus.Entry
}

func (c *BreakerConfig) setDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	c.Logger = logging.OrNop(c.Logger)
}

type breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker stops calling next after ConsecutiveFailures server or
// network failures in a row. Client errors do not count against the breaker.
// While open, calls fail fast with an *Error coded CodeBreakerOpen.
func WithCircuitBreaker(next Transport, cfg BreakerConfig) Transport {
	cfg.setDefaults()
	log := cfg.Logger.WithField("breaker", cfg.Name)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			te, ok := AsError(err)
			return ok && (te.ClientError() || te.Code == CodeInvalidRequest)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("transport: circuit breaker state changed")
		},
	}
	return &breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breaker) Do(ctx context.Context, req Request) (*Response, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Do(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Method: req.Method, URL: req.URL, Code: CodeBreakerOpen, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return res.(*Response), nil
}
