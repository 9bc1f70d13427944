package outbound

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/iota-uz/outbound/pkg/jobqueue"
)

// noopClient stands in for a disabled integration. It holds no connection and
// never creates a job.
type noopClient struct {
	verbs
	name  string
	state atomic.Int32
}

func newNoop(name string) *noopClient {
	c := &noopClient{name: name}
	c.verbs = verbs{enqueue: c.Enqueue}
	return c
}

func (c *noopClient) Name() string  { return c.name }
func (c *noopClient) Enabled() bool { return false }
func (c *noopClient) State() State  { return State(c.state.Load()) }

func (c *noopClient) Start(context.Context) error {
	c.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady))
	return nil
}

func (c *noopClient) Close(context.Context) error {
	c.state.Store(int32(StateClosed))
	return nil
}

func (c *noopClient) Enqueue(context.Context, Request, ...CallOption) (*jobqueue.Job, error) {
	return nil, nil
}

func (c *noopClient) Counts(context.Context) (jobqueue.Counts, error) {
	return jobqueue.Counts{}, nil
}

func (c *noopClient) DeadLetters(context.Context, int) ([]jobqueue.DeadLetter, error) {
	return nil, nil
}

func (c *noopClient) ReplayDeadLetter(context.Context, string) (*jobqueue.Job, error) {
	return nil, ErrDisabled
}

func (c *noopClient) PurgeDeadLetters(context.Context, time.Time) (int, error) {
	return 0, nil
}
