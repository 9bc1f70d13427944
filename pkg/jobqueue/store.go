package jobqueue

import (
	"context"
	"time"
)

// Store is the durable broker behind a queue. Implementations must be safe for
// concurrent use; every method that changes a job's state is atomic in the backend.
type Store interface {
	// Add records a waiting (or delayed, when Opts.Delay > 0) job.
	// It returns ErrJobExists when job.ID is already taken.
	Add(ctx context.Context, job *Job) error
	// Claim leases the oldest waiting job for lease, increments AttemptsMade and
	// returns it. It returns (nil, nil) when the queue is empty.
	Claim(ctx context.Context, queue string, lease time.Duration) (*Job, error)
	// Extend pushes a leased job's expiry to now+lease. It returns ErrJobNotActive
	// when the lease was already lost.
	Extend(ctx context.Context, job *Job, lease time.Duration) error
	// Release gives a leased job back to the head of the queue without counting the attempt.
	Release(ctx context.Context, job *Job) error
	// Complete acknowledges a leased job.
	Complete(ctx context.Context, job *Job) error
	// Retry reschedules a leased job to run at runAt.
	Retry(ctx context.Context, job *Job, runAt time.Time, reason string) error
	// Fail moves a leased job to its final failed state and records dl.
	Fail(ctx context.Context, job *Job, dl DeadLetter) error

	AppendLog(ctx context.Context, job *Job, line string) error
	Logs(ctx context.Context, queue, jobID string) ([]string, error)
	Get(ctx context.Context, queue, jobID string) (*Job, error)

	// Promote moves delayed jobs due at now to the tail of the waiting list.
	Promote(ctx context.Context, queue string, now time.Time) (int, error)
	// Reclaim returns jobs with an expired lease to the waiting list. Jobs with
	// no attempts left are failed instead and returned to the caller.
	Reclaim(ctx context.Context, queue string, now time.Time) ([]*Job, error)

	Counts(ctx context.Context, queue string) (Counts, error)
	DeadLetters(ctx context.Context, queue string, limit int) ([]DeadLetter, error)
	// ReplayDeadLetter re-adds the dead job with AttemptsMade reset.
	ReplayDeadLetter(ctx context.Context, queue, jobID string) (*Job, error)
	PurgeDeadLetters(ctx context.Context, queue string, olderThan time.Time) (int, error)

	Close() error
}

// Role names the handle a Store connection is opened for.
type Role string

const (
	RoleQueue  Role = "queue"
	RoleWorker Role = "worker"
)

// Connector opens a Store for one handle. Queue and worker handles each get their own.
type Connector func(role Role) (Store, error)
