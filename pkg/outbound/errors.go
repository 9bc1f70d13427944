package outbound

import (
	"errors"
	"fmt"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
	"github.com/iota-uz/outbound/pkg/serrors"
)

var (
	ErrInvalidConfig = serrors.NewError("OUTBOUND_INVALID_CONFIG", "invalid outbound integration configuration", "")
	ErrNotStarted    = serrors.NewError("OUTBOUND_NOT_STARTED", "outbound integration is not started", "")
	ErrDisabled      = serrors.NewError("OUTBOUND_DISABLED", "outbound integration is disabled", "")
	ErrUnknown       = serrors.NewError("OUTBOUND_UNKNOWN_INTEGRATION", "unknown outbound integration", "")
)

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}

// TerminalError wraps a failure that must not be retried, whatever attempts
// are left on the job.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	if e.Err == nil {
		return "terminal failure"
	}
	return "terminal failure: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error { return e.Err }

func (e *TerminalError) Unrecoverable() bool { return true }

// IsTerminal reports whether err stops retries.
func IsTerminal(err error) bool {
	return jobqueue.IsUnrecoverable(err)
}

const (
	ReasonTerminal  = "terminal"
	ReasonExhausted = "exhausted"
)

// DeliveryError is handed to Config.OnTerminalFailure once a job will not be
// retried any more.
type DeliveryError struct {
	Integration  string
	JobID        string
	Request      Request
	AttemptsMade int
	Attempts     int
	// Reason is ReasonTerminal or ReasonExhausted.
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s %s %s after %d/%d attempts: %v",
		e.Integration, e.Request.Method, e.Request.URL, e.Reason, e.AttemptsMade, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Response returns the transport failure behind e, if the call got that far.
func (e *DeliveryError) Response() (*transport.Error, bool) {
	return transport.AsError(e.Err)
}

func reasonOf(err error) string {
	if errors.Is(err, jobqueue.ErrStalled) || !IsTerminal(err) {
		return ReasonExhausted
	}
	return ReasonTerminal
}
