package jobqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/jobqueue/memory"
)

type failure struct {
	job jobqueue.Job
	err error
}

type recorder struct {
	mu        sync.Mutex
	completed []jobqueue.Job
	failed    []failure
}

func (r *recorder) attach(w *jobqueue.Worker) {
	w.OnCompleted(func(job *jobqueue.Job) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.completed = append(r.completed, *job)
	})
	w.OnFailed(func(job *jobqueue.Job, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.failed = append(r.failed, failure{job: *job, err: err})
	})
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed), len(r.failed)
}

func (r *recorder) failures() []failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]failure(nil), r.failed...)
}

func fastOptions() jobqueue.WorkerOptions {
	return jobqueue.WorkerOptions{
		PollInterval:  5 * time.Millisecond,
		LockTTL:       time.Second,
		ShutdownGrace: time.Second,
	}
}

func setup(t *testing.T, defaults jobqueue.JobOptions, proc jobqueue.Processor, opts jobqueue.WorkerOptions) (*jobqueue.Queue, *jobqueue.Worker, *recorder, *memory.Store) {
	t.Helper()

	store := memory.New(memory.Options{})
	q, err := jobqueue.NewQueue("test", store, jobqueue.QueueOptions{DefaultJobOptions: defaults})
	require.NoError(t, err)
	w, err := jobqueue.NewWorker("test", store, proc, opts)
	require.NoError(t, err)

	rec := &recorder{}
	rec.attach(w)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		_ = w.Close(context.Background())
		_ = q.Close()
	})
	return q, w, rec, store
}

func fixedBackoff(attempts int) jobqueue.JobOptions {
	return jobqueue.JobOptions{
		Attempts: attempts,
		Backoff:  jobqueue.Backoff{Kind: jobqueue.BackoffFixed, Delay: time.Millisecond},
	}
}

func TestWorker_Completes(t *testing.T) {
	t.Parallel()

	var seen atomic.Value
	q, _, rec, _ := setup(t, fixedBackoff(3), func(_ context.Context, job *jobqueue.Job) error {
		seen.Store(string(job.Payload))
		return nil
	}, fastOptions())

	_, err := q.Add(context.Background(), "call", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, _ := rec.counts()
		return c == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.JSONEq(t, `{"a":1}`, seen.Load().(string))
	rec.mu.Lock()
	assert.Equal(t, jobqueue.StateCompleted, rec.completed[0].State)
	assert.Equal(t, 1, rec.completed[0].AttemptsMade)
	rec.mu.Unlock()
}

func TestWorker_RetriesUntilExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	q, _, rec, store := setup(t, fixedBackoff(3), func(context.Context, *jobqueue.Job) error {
		calls.Add(1)
		return errors.New("upstream 503")
	}, fastOptions())

	job, err := q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, f := rec.counts()
		return f == 3
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())

	failed := rec.failures()
	for i, f := range failed {
		assert.Equal(t, i+1, f.job.AttemptsMade)
		assert.EqualError(t, f.err, "upstream 503")
	}
	assert.Equal(t, jobqueue.StateDelayed, failed[0].job.State)
	assert.Equal(t, jobqueue.StateFailed, failed[2].job.State)

	dead, err := store.DeadLetters(context.Background(), "test", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].JobID)
	assert.Equal(t, jobqueue.ReasonExhausted, dead[0].Reason)
	assert.Equal(t, 3, dead[0].AttemptsMade)
}

func TestWorker_UnrecoverableStopsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	q, _, rec, store := setup(t, fixedBackoff(5), func(context.Context, *jobqueue.Job) error {
		calls.Add(1)
		return jobqueue.Unrecoverable(errors.New("400 bad request"))
	}, fastOptions())

	_, err := q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, f := rec.counts()
		return f == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	f := rec.failures()[0]
	assert.True(t, jobqueue.IsUnrecoverable(f.err))
	assert.Equal(t, jobqueue.StateFailed, f.job.State)

	dead, err := store.DeadLetters(context.Background(), "test", 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobqueue.ReasonUnrecoverable, dead[0].Reason)
}

func TestWorker_ProcessorPanicIsAFailure(t *testing.T) {
	t.Parallel()

	q, _, rec, _ := setup(t, fixedBackoff(1), func(context.Context, *jobqueue.Job) error {
		panic("kaboom")
	}, fastOptions())

	_, err := q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, f := rec.counts()
		return f == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, rec.failures()[0].err, "kaboom")
}

func TestWorker_CustomBackoffStrategy(t *testing.T) {
	t.Parallel()

	var asked atomic.Int32
	opts := fastOptions()
	opts.BackoffStrategy = jobqueue.StrategyFunc(func(attemptsMade int) time.Duration {
		asked.Add(1)
		return time.Millisecond
	})

	defaults := jobqueue.JobOptions{Attempts: 2, Backoff: jobqueue.Backoff{Kind: jobqueue.BackoffCustom}}
	q, _, rec, _ := setup(t, defaults, func(context.Context, *jobqueue.Job) error {
		return errors.New("transient")
	}, opts)

	_, err := q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, f := rec.counts()
		return f == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), asked.Load())
}

func TestWorker_DelayedJob(t *testing.T) {
	t.Parallel()

	q, _, rec, _ := setup(t, fixedBackoff(1), func(context.Context, *jobqueue.Job) error { return nil }, fastOptions())

	start := time.Now()
	_, err := q.Add(context.Background(), "call", json.RawMessage(`{}`), jobqueue.Overrides{Delay: 50 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, _ := rec.counts()
		return c == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWorker_CloseWaitsForInFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished atomic.Bool
	store := memory.New(memory.Options{})
	q, err := jobqueue.NewQueue("test", store, jobqueue.QueueOptions{})
	require.NoError(t, err)
	w, err := jobqueue.NewWorker("test", store, func(context.Context, *jobqueue.Job) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}, fastOptions())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	_, err = q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)
	<-started

	require.NoError(t, w.Close(context.Background()))
	assert.True(t, finished.Load())
	require.NoError(t, w.Close(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), jobqueue.ErrClosed)
}

func TestWorker_CloseCancelsAfterGrace(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	store := memory.New(memory.Options{})
	q, err := jobqueue.NewQueue("test", store, jobqueue.QueueOptions{})
	require.NoError(t, err)

	opts := fastOptions()
	opts.ShutdownGrace = 20 * time.Millisecond
	w, err := jobqueue.NewWorker("test", store, func(ctx context.Context, _ *jobqueue.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, opts)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	_, err = q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)
	<-started

	done := make(chan error, 1)
	go func() { done <- w.Close(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after shutdown grace")
	}
}

func TestWorker_CloseWithoutStart(t *testing.T) {
	t.Parallel()

	w, err := jobqueue.NewWorker("test", memory.New(memory.Options{}), func(context.Context, *jobqueue.Job) error { return nil }, jobqueue.WorkerOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close(context.Background()))
}

func TestNewWorker_InvalidConfig(t *testing.T) {
	t.Parallel()

	proc := func(context.Context, *jobqueue.Job) error { return nil }
	store := memory.New(memory.Options{})

	_, err := jobqueue.NewWorker("", store, proc, jobqueue.WorkerOptions{})
	require.ErrorIs(t, err, jobqueue.ErrInvalidConfig)
	_, err = jobqueue.NewWorker("q", nil, proc, jobqueue.WorkerOptions{})
	require.ErrorIs(t, err, jobqueue.ErrInvalidConfig)
	_, err = jobqueue.NewWorker("q", store, nil, jobqueue.WorkerOptions{})
	require.ErrorIs(t, err, jobqueue.ErrInvalidConfig)
	_, err = jobqueue.NewWorker("q", store, proc, jobqueue.WorkerOptions{PollInterval: time.Second, LockTTL: time.Second})
	require.ErrorIs(t, err, jobqueue.ErrInvalidConfig)
}

func TestWorker_SlowJobKeepsItsLease(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	opts := fastOptions()
	opts.LockTTL = 90 * time.Millisecond
	q, _, rec, store := setup(t, fixedBackoff(1), func(ctx context.Context, _ *jobqueue.Job) error {
		calls.Add(1)
		select {
		case <-time.After(400 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, opts)

	_, err := q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, _ := rec.counts()
		return c == 1
	}, 3*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	_, failed := rec.counts()
	assert.Zero(t, failed)

	dead, err := store.DeadLetters(context.Background(), "test", 0)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

// leaseLost is a store on which every lease extension fails.
type leaseLost struct {
	*memory.Store
}

func (leaseLost) Extend(context.Context, *jobqueue.Job, time.Duration) error {
	return jobqueue.ErrJobNotActive
}

func TestWorker_LostLeaseCancelsJob(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})
	store := leaseLost{Store: memory.New(memory.Options{})}
	q, err := jobqueue.NewQueue("test", store, jobqueue.QueueOptions{DefaultJobOptions: fixedBackoff(1)})
	require.NoError(t, err)
	opts := fastOptions()
	opts.LockTTL = 30 * time.Millisecond
	w, err := jobqueue.NewWorker("test", store, func(ctx context.Context, _ *jobqueue.Job) error {
		select {
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	}, opts)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close(context.Background()) })

	_, err = q.Add(context.Background(), "call", json.RawMessage(`{}`))
	require.NoError(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled after losing its lease")
	}
}
