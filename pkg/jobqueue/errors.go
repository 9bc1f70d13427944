package jobqueue

import (
	"errors"
	"fmt"

	"github.com/iota-uz/outbound/pkg/serrors"
)

var (
	ErrInvalidConfig = serrors.NewError("JOBQUEUE_INVALID_CONFIG", "invalid job queue configuration", "")
	ErrJobExists     = serrors.NewError("JOBQUEUE_JOB_EXISTS", "job already exists", "")
	ErrJobNotFound   = serrors.NewError("JOBQUEUE_JOB_NOT_FOUND", "job not found", "")
	ErrJobNotActive  = serrors.NewError("JOBQUEUE_JOB_NOT_ACTIVE", "job is not leased by this worker", "")
	ErrClosed        = serrors.NewError("JOBQUEUE_CLOSED", "job queue handle is closed", "")
	ErrStalled       = serrors.NewError("JOBQUEUE_STALLED", "job lease expired with no attempts left", "")
)

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}

// UnrecoverableError marks a processor failure that must not be retried,
// regardless of the attempts left on the job.
type UnrecoverableError struct {
	Err error
}

func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

func (e *UnrecoverableError) Error() string {
	if e.Err == nil {
		return "unrecoverable error"
	}
	return e.Err.Error()
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

func (e *UnrecoverableError) Unrecoverable() bool { return true }

// IsUnrecoverable reports whether any error in err's chain asks not to be retried.
func IsUnrecoverable(err error) bool {
	var u interface{ Unrecoverable() bool }
	return errors.As(err, &u) && u.Unrecoverable()
}
