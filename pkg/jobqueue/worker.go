package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/logging"
)

// Processor runs one job. Returning an error wrapped with Unrecoverable fails
// the job without further retries.
type Processor func(ctx context.Context, job *Job) error

type WorkerOptions struct {
	Concurrency   int
	PollInterval  time.Duration
	LockTTL       time.Duration
	ShutdownGrace time.Duration

	// BackoffStrategy computes delays for jobs whose backoff kind is custom.
	BackoffStrategy Strategy
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	Rand            *rand.Rand

	LastErrorMaxLen int

	// Limiter, when set, is waited on before each claimed job runs.
	Limiter Limiter

	ObserveQueueDepthEvery time.Duration

	Logger *logrus.Entry
}

func (o *WorkerOptions) setDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.PollInterval == 0 {
		o.PollInterval = 1 * time.Second
	}
	if o.LockTTL == 0 {
		o.LockTTL = 60 * time.Second
	}
	if o.ShutdownGrace == 0 {
		o.ShutdownGrace = 30 * time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 1 * time.Hour
	}
	if o.LastErrorMaxLen == 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.ObserveQueueDepthEvery == 0 {
		o.ObserveQueueDepthEvery = 10 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	o.Logger = logging.OrNop(o.Logger)
}

type workerState int

const (
	workerIdle workerState = iota
	workerRunning
	workerClosed
)

// Worker is the consumer handle of a named queue.
type Worker struct {
	queue string
	store Store
	proc  Processor
	opts  WorkerOptions
	log   *logrus.Entry
	m     *metrics

	mu          sync.Mutex
	state       workerState
	onCompleted []func(*Job)
	onFailed    []func(*Job, error)

	stopCtx    context.Context
	stop       context.CancelFunc
	jobCtx     context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup

	randMu sync.Mutex
}

func NewWorker(queue string, store Store, proc Processor, opts WorkerOptions) (*Worker, error) {
	if strings.TrimSpace(queue) == "" {
		return nil, invalidConfig("queue name is required")
	}
	if store == nil {
		return nil, invalidConfig("store is required")
	}
	if proc == nil {
		return nil, invalidConfig("processor is required")
	}
	if opts.Concurrency < 0 {
		return nil, invalidConfig("concurrency must be positive, got %d", opts.Concurrency)
	}
	opts.setDefaults()
	if opts.LockTTL <= opts.PollInterval {
		return nil, invalidConfig("lock TTL (%s) must exceed poll interval (%s)", opts.LockTTL, opts.PollInterval)
	}

	return &Worker{
		queue: queue,
		store: store,
		proc:  proc,
		opts:  opts,
		log:   opts.Logger.WithField("queue", queue),
		m:     getMetrics(),
	}, nil
}

// OnCompleted registers fn to run after a job is acknowledged.
func (w *Worker) OnCompleted(fn func(job *Job)) *Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onCompleted = append(w.onCompleted, fn)
	return w
}

// OnFailed registers fn to run after every failed attempt, once the job has
// been rescheduled or moved to failed.
func (w *Worker) OnFailed(fn func(job *Job, err error)) *Worker {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onFailed = append(w.onFailed, fn)
	return w
}

// Log appends line to the job's audit trail.
func (w *Worker) Log(ctx context.Context, job *Job, line string) error {
	return w.store.AppendLog(ctx, job, line)
}

// Start launches the claim loops and the maintenance loop. It returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case workerRunning:
		return nil
	case workerClosed:
		return ErrClosed
	}
	w.state = workerRunning

	base := context.WithoutCancel(ctx)
	w.stopCtx, w.stop = context.WithCancel(base)
	w.jobCtx, w.cancelJobs = context.WithCancel(base)

	w.log.WithField("concurrency", w.opts.Concurrency).Info("jobqueue: worker starting")

	for range w.opts.Concurrency {
		w.wg.Add(1)
		go w.loop()
	}
	w.wg.Add(1)
	go w.maintain()

	return nil
}

// Close stops claiming new jobs, waits for in-flight ones up to ShutdownGrace
// (or ctx), then closes the worker's store. Later calls are no-ops.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	prev := w.state
	if prev == workerClosed {
		w.mu.Unlock()
		return nil
	}
	w.state = workerClosed
	w.mu.Unlock()

	if prev == workerRunning {
		w.log.Info("jobqueue: worker stopping")
		w.stop()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		grace := time.NewTimer(w.opts.ShutdownGrace)
		defer grace.Stop()

		select {
		case <-done:
		case <-grace.C:
			w.log.Warn("jobqueue: shutdown grace elapsed, cancelling in-flight jobs")
			w.cancelJobs()
			<-done
		case <-ctx.Done():
			w.log.Warn("jobqueue: shutdown context done, cancelling in-flight jobs")
			w.cancelJobs()
			<-done
		}
		w.cancelJobs()
	}

	return w.store.Close()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	for {
		if w.stopCtx.Err() != nil {
			return
		}

		job, err := w.store.Claim(w.stopCtx, w.queue, w.opts.LockTTL)
		if err != nil {
			if w.stopCtx.Err() != nil {
				return
			}
			w.log.WithError(err).Warn("jobqueue: claim failed")
			w.idle()
			continue
		}
		if job == nil {
			w.idle()
			continue
		}

		if w.opts.Limiter != nil {
			if err := w.opts.Limiter.Wait(w.stopCtx); err != nil {
				if relErr := w.store.Release(context.WithoutCancel(w.stopCtx), job); relErr != nil {
					w.jobLog(job).WithError(relErr).Warn("jobqueue: release failed")
				}
				continue
			}
		}

		w.process(job)
	}
}

func (w *Worker) idle() {
	t := time.NewTimer(w.opts.PollInterval)
	defer t.Stop()
	select {
	case <-w.stopCtx.Done():
	case <-t.C:
	}
}

func (w *Worker) process(job *Job) {
	ctx, cancel := context.WithCancel(w.jobCtx)
	defer cancel()

	stopHeartbeat := w.heartbeat(job, cancel)
	start := time.Now()
	err := w.invoke(ctx, job)
	latency := time.Since(start)
	stopHeartbeat()

	storeCtx := context.WithoutCancel(w.jobCtx)

	if err == nil {
		w.record("completed", latency)
		if ackErr := w.store.Complete(storeCtx, job); ackErr != nil {
			w.jobLog(job).WithError(ackErr).Warn("jobqueue: complete failed")
			if errors.Is(ackErr, ErrJobNotActive) {
				return
			}
		}
		w.emitCompleted(job)
		return
	}

	w.record("failed", latency)
	w.fail(storeCtx, job, err)
}

// heartbeat extends the job's lease every LockTTL/3 until the returned func is
// called. A lost lease cancels the job; its outcome is then dropped by the store.
func (w *Worker) heartbeat(job *Job, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		t := time.NewTicker(w.opts.LockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
			}
			err := w.store.Extend(w.jobCtx, job, w.opts.LockTTL)
			switch {
			case err == nil:
			case errors.Is(err, ErrJobNotActive):
				w.jobLog(job).Warn("jobqueue: lease lost, cancelling job")
				cancel()
				return
			case w.jobCtx.Err() == nil:
				w.jobLog(job).WithError(err).Warn("jobqueue: extend lease failed")
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobqueue: processor panicked: %v", r)
		}
	}()
	return w.proc(ctx, job)
}

func (w *Worker) fail(ctx context.Context, job *Job, err error) {
	lastErr := Summarize(err, w.opts.LastErrorMaxLen)

	if IsUnrecoverable(err) || !job.AttemptsLeft() {
		reason := ReasonExhausted
		if IsUnrecoverable(err) {
			reason = ReasonUnrecoverable
		}
		dl := NewDeadLetter(job, reason, lastErr, time.Now().UTC())
		if failErr := w.store.Fail(ctx, job, dl); failErr != nil {
			w.jobLog(job).WithError(failErr).Warn("jobqueue: fail update failed")
			if errors.Is(failErr, ErrJobNotActive) {
				return
			}
		}
		w.m.deadTotal.WithLabelValues(w.queue, reason).Inc()
		w.emitFailed(job, err)
		return
	}

	next := time.Now().Add(w.retryDelay(job))
	if retryErr := w.store.Retry(ctx, job, next, lastErr); retryErr != nil {
		w.jobLog(job).WithError(retryErr).Warn("jobqueue: retry update failed")
		if errors.Is(retryErr, ErrJobNotActive) {
			return
		}
	}
	w.emitFailed(job, err)
}

func (w *Worker) retryDelay(job *Job) time.Duration {
	d := capDelay(job.Opts.Backoff.Next(job.AttemptsMade, w.opts.BackoffStrategy), w.opts.MaxBackoff)
	w.randMu.Lock()
	d += jitter(w.opts.Rand, w.opts.JitterMax)
	w.randMu.Unlock()
	return d
}

func (w *Worker) maintain() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	nextDepthAt := time.Now()
	for {
		w.maintainOnce()

		if time.Now().After(nextDepthAt) {
			if err := w.observeQueueDepth(); err != nil {
				w.log.WithError(err).Debug("jobqueue: observe queue depth failed")
			}
			nextDepthAt = time.Now().Add(w.opts.ObserveQueueDepthEvery)
		}

		select {
		case <-w.stopCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) maintainOnce() {
	ctx := w.stopCtx
	now := time.Now()

	if _, err := w.store.Promote(ctx, w.queue, now); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warn("jobqueue: promote delayed jobs failed")
	}

	stalled, err := w.store.Reclaim(ctx, w.queue, now)
	if err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warn("jobqueue: reclaim expired leases failed")
	}
	for _, job := range stalled {
		w.m.deadTotal.WithLabelValues(w.queue, ReasonStalled).Inc()
		w.emitFailed(job, &UnrecoverableError{Err: ErrStalled})
	}
}

func (w *Worker) observeQueueDepth() error {
	c, err := w.store.Counts(w.stopCtx, w.queue)
	if err != nil {
		return err
	}
	ObserveCounts(w.queue, c)
	return nil
}

func (w *Worker) record(result string, latency time.Duration) {
	w.m.jobsTotal.WithLabelValues(w.queue, result).Inc()
	w.m.processLatency.WithLabelValues(w.queue, result).Observe(latency.Seconds())
}

func (w *Worker) emitCompleted(job *Job) {
	w.mu.Lock()
	fns := append([]func(*Job){}, w.onCompleted...)
	w.mu.Unlock()
	for _, fn := range fns {
		w.safely(job, func() { fn(job) })
	}
}

func (w *Worker) emitFailed(job *Job, err error) {
	w.mu.Lock()
	fns := append([]func(*Job, error){}, w.onFailed...)
	w.mu.Unlock()
	for _, fn := range fns {
		w.safely(job, func() { fn(job, err) })
	}
}

func (w *Worker) safely(job *Job, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.jobLog(job).Errorf("jobqueue: listener panicked: %v", r)
		}
	}()
	fn()
}

func (w *Worker) jobLog(job *Job) *logrus.Entry {
	return w.log.WithFields(logFields(job))
}

func logFields(job *Job) logrus.Fields {
	return logrus.Fields{
		"job_id":        job.ID,
		"job_name":      job.Name,
		"attempts_made": job.AttemptsMade,
		"attempts":      job.Opts.Attempts,
	}
}
