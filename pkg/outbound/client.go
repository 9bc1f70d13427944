package outbound

import (
	"context"
	"time"

	"github.com/iota-uz/outbound/pkg/jobqueue"
)

// Client is what business code holds for one integration. A disabled
// integration gets a Client whose calls do nothing.
type Client interface {
	Name() string
	Enabled() bool
	State() State

	// Start opens the queue and, unless disabled, starts the worker.
	Start(ctx context.Context) error
	// Close stops the worker, waiting for in-flight calls, then closes the
	// queue. It is safe to call more than once.
	Close(ctx context.Context) error

	// Enqueue durably records req and returns without waiting for the call.
	Enqueue(ctx context.Context, req Request, opts ...CallOption) (*jobqueue.Job, error)

	Get(ctx context.Context, url string, opts ...CallOption) error
	Head(ctx context.Context, url string, opts ...CallOption) error
	Options(ctx context.Context, url string, opts ...CallOption) error
	Delete(ctx context.Context, url string, opts ...CallOption) error
	Post(ctx context.Context, url string, data any, opts ...CallOption) error
	Put(ctx context.Context, url string, data any, opts ...CallOption) error
	Patch(ctx context.Context, url string, data any, opts ...CallOption) error

	Counts(ctx context.Context) (jobqueue.Counts, error)
	DeadLetters(ctx context.Context, limit int) ([]jobqueue.DeadLetter, error)
	ReplayDeadLetter(ctx context.Context, jobID string) (*jobqueue.Job, error)
	PurgeDeadLetters(ctx context.Context, olderThan time.Time) (int, error)
}

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
