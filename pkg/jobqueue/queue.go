package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/logging"
)

type QueueOptions struct {
	// DefaultJobOptions applies to every Add before the call's overrides.
	DefaultJobOptions JobOptions
	Logger            *logrus.Entry
}

// Queue is the producer handle of a named queue.
type Queue struct {
	name  string
	store Store
	opts  QueueOptions
	m     *metrics

	mu     sync.RWMutex
	closed bool
}

func NewQueue(name string, store Store, opts QueueOptions) (*Queue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidConfig("queue name is required")
	}
	if store == nil {
		return nil, invalidConfig("store is required")
	}
	if opts.DefaultJobOptions.Attempts == 0 {
		opts.DefaultJobOptions = DefaultJobOptions()
	}
	if err := opts.DefaultJobOptions.Validate(); err != nil {
		return nil, err
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Queue{
		name:  name,
		store: store,
		opts:  opts,
		m:     getMetrics(),
	}, nil
}

func (q *Queue) Name() string { return q.name }

// Store exposes the queue's store for inspection (counts, dead letters).
func (q *Queue) Store() Store { return q.store }

// Add durably records a job and returns once the store has accepted it.
func (q *Queue) Add(ctx context.Context, name string, payload json.RawMessage, overrides ...Overrides) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrClosed
	}

	opts := q.opts.DefaultJobOptions.Merge(overrides...)
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	job := &Job{
		ID:        id,
		Queue:     q.name,
		Name:      name,
		Payload:   payload,
		Opts:      opts,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Add(ctx, job); err != nil {
		return nil, fmt.Errorf("jobqueue %s add: %w", q.name, err)
	}

	q.m.addTotal.WithLabelValues(q.name).Inc()
	return job, nil
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.store.Counts(ctx, q.name)
}

// Close releases the queue's store. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.store.Close()
}
