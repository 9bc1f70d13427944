package jobqueue

import (
	"fmt"
	"strings"
	"time"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
	// BackoffCustom delegates the delay to the worker's BackoffStrategy.
	BackoffCustom BackoffKind = "custom"
)

func ParseBackoffKind(s string) (BackoffKind, error) {
	switch k := BackoffKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BackoffFixed, BackoffExponential, BackoffCustom:
		return k, nil
	default:
		return "", invalidConfig("unknown backoff kind %q (expected fixed|exponential|custom)", s)
	}
}

type Backoff struct {
	Kind  BackoffKind   `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// Retention controls what happens to the job record after a final outcome.
// KeepFor bounds how long a kept record survives; zero keeps it until purged.
type Retention struct {
	RemoveOnComplete bool          `json:"remove_on_complete"`
	RemoveOnFail     bool          `json:"remove_on_fail"`
	KeepFor          time.Duration `json:"keep_for,omitempty"`
}

type JobOptions struct {
	Attempts  int           `json:"attempts"`
	Backoff   Backoff       `json:"backoff"`
	Retention Retention     `json:"retention"`
	Delay     time.Duration `json:"delay,omitempty"`
	JobID     string        `json:"job_id,omitempty"`
}

func DefaultJobOptions() JobOptions {
	return JobOptions{
		Attempts: 5,
		Backoff: Backoff{
			Kind:  BackoffExponential,
			Delay: 5 * time.Second,
		},
		Retention: Retention{
			RemoveOnComplete: true,
			RemoveOnFail:     true,
		},
	}
}

// Overrides is one layer of job options. Zero and nil fields leave the lower layer untouched.
type Overrides struct {
	Attempts  int
	Backoff   *Backoff
	Retention *Retention
	Delay     time.Duration
	JobID     string
}

// Merge applies layers in order, later layers taking precedence.
func (o JobOptions) Merge(layers ...Overrides) JobOptions {
	for _, l := range layers {
		if l.Attempts > 0 {
			o.Attempts = l.Attempts
		}
		if l.Backoff != nil {
			if l.Backoff.Kind != "" {
				o.Backoff.Kind = l.Backoff.Kind
			}
			if l.Backoff.Delay > 0 {
				o.Backoff.Delay = l.Backoff.Delay
			}
		}
		if l.Retention != nil {
			o.Retention = *l.Retention
		}
		if l.Delay > 0 {
			o.Delay = l.Delay
		}
		if l.JobID != "" {
			o.JobID = l.JobID
		}
	}
	return o
}

func (o JobOptions) Validate() error {
	if o.Attempts < 1 {
		return invalidConfig("attempts must be >= 1, got %d", o.Attempts)
	}
	if _, err := ParseBackoffKind(string(o.Backoff.Kind)); err != nil {
		return err
	}
	if o.Backoff.Delay < 0 {
		return invalidConfig("backoff delay must be non-negative, got %s", o.Backoff.Delay)
	}
	if o.Delay < 0 {
		return invalidConfig("delay must be non-negative, got %s", o.Delay)
	}
	if strings.ContainsAny(o.JobID, " \t\n") {
		return fmt.Errorf("%w: job id %q must not contain whitespace", ErrInvalidConfig, o.JobID)
	}
	return nil
}
