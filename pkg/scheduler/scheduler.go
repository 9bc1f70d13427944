// Package scheduler runs housekeeping jobs on cron schedules through their own
// job queue, so a run survives restarts and is audited like any other job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/logging"
	"github.com/iota-uz/outbound/pkg/outbound"
)

const QueueName = "cron-scheduler"

// cronParser accepts standard 5-field expressions and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Integrations is the view of the outbound registry the scheduled jobs need.
type Integrations interface {
	Names() []string
	Get(name string) (outbound.Client, error)
}

type Entry struct {
	Kind     Kind
	Schedule string
}

type Config struct {
	Entries []Entry
	// DeadLetterRetention is how long dead letters survive a sweep. Default 7 days.
	DeadLetterRetention time.Duration
	Worker              jobqueue.WorkerOptions
}

type Dependencies struct {
	Connector    jobqueue.Connector
	Integrations Integrations
	Logger       *logrus.Entry
}

// JobDefaults apply to every scheduled run: one attempt, completed runs are
// dropped, failed ones kept for a week.
func JobDefaults() jobqueue.JobOptions {
	return jobqueue.JobOptions{
		Attempts: 1,
		Backoff:  jobqueue.Backoff{Kind: jobqueue.BackoffFixed},
		Retention: jobqueue.Retention{
			RemoveOnComplete: true,
			RemoveOnFail:     false,
			KeepFor:          7 * 24 * time.Hour,
		},
	}
}

// alignedEvery runs an "@every" schedule on wall-clock multiples of its delay,
// so processes started at different times fire on the same ticks.
type alignedEvery struct {
	delay time.Duration
}

func (a alignedEvery) Next(t time.Time) time.Time {
	return t.Truncate(a.delay).Add(a.delay)
}

func parseSchedule(spec string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, err
	}
	if every, ok := sched.(cronlib.ConstantDelaySchedule); ok {
		return alignedEvery{delay: every.Delay}, nil
	}
	return sched, nil
}

type scheduled struct {
	kind  Kind
	sched cronlib.Schedule
}

type Scheduler struct {
	cfg     Config
	deps    Dependencies
	entries []scheduled
	log     *logrus.Entry
	now     func() time.Time

	mu      sync.Mutex
	started bool
	closed  bool
	cron    *cronlib.Cron
	queue   *jobqueue.Queue
	worker  *jobqueue.Worker
}

func New(cfg Config, deps Dependencies) (*Scheduler, error) {
	if deps.Connector == nil {
		return nil, fmt.Errorf("%w: scheduler connector is required", jobqueue.ErrInvalidConfig)
	}
	if deps.Integrations == nil {
		return nil, fmt.Errorf("%w: scheduler integrations are required", jobqueue.ErrInvalidConfig)
	}
	if cfg.DeadLetterRetention == 0 {
		cfg.DeadLetterRetention = 7 * 24 * time.Hour
	}
	cfg.Worker.Concurrency = 1

	entries := make([]scheduled, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		if _, err := ParseKind(string(e.Kind)); err != nil {
			return nil, err
		}
		sched, err := parseSchedule(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("%w: %s schedule %q: %v", jobqueue.ErrInvalidConfig, e.Kind, e.Schedule, err)
		}
		entries = append(entries, scheduled{kind: e.Kind, sched: sched})
	}

	log := logging.OrNop(deps.Logger).WithField("queue", QueueName)
	cfg.Worker.Logger = log
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		entries: entries,
		log:     log,
		now:     time.Now,
	}, nil
}

// Start opens the queue, starts the worker and arms the cron entries.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return jobqueue.ErrClosed
	}
	if s.started {
		return nil
	}

	qs, err := s.deps.Connector(jobqueue.RoleQueue)
	if err != nil {
		return fmt.Errorf("scheduler: open queue connection: %w", err)
	}
	q, err := jobqueue.NewQueue(QueueName, qs, jobqueue.QueueOptions{DefaultJobOptions: JobDefaults(), Logger: s.log})
	if err != nil {
		_ = qs.Close()
		return err
	}

	ws, err := s.deps.Connector(jobqueue.RoleWorker)
	if err != nil {
		_ = q.Close()
		return fmt.Errorf("scheduler: open worker connection: %w", err)
	}
	w, err := jobqueue.NewWorker(QueueName, ws, s.process, s.cfg.Worker)
	if err != nil {
		_ = ws.Close()
		_ = q.Close()
		return err
	}
	w.OnFailed(func(job *jobqueue.Job, err error) { s.onFailed(w, job, err) })
	if err := w.Start(ctx); err != nil {
		_ = w.Close(ctx)
		_ = q.Close()
		return err
	}

	c := cronlib.New(cronlib.WithParser(cronParser))
	for _, e := range s.entries {
		c.Schedule(e.sched, cronlib.FuncJob(func() { s.fire(e) }))
		s.log.WithFields(logrus.Fields{"kind": e.kind, "next_run": e.sched.Next(s.now())}).Info("scheduler: job scheduled")
	}
	c.Start()

	s.queue, s.worker, s.cron = q, w, c
	s.started = true
	return nil
}

// fire enqueues one run per tick. The job id is derived from the tick so
// several processes on the same schedule add it once.
func (s *Scheduler) fire(e scheduled) {
	tick := e.sched.Next(s.now().Add(-time.Second))
	id := fmt.Sprintf("%s-%d", e.kind, tick.Unix())

	_, err := s.queue.Add(context.Background(), string(e.kind), nil, jobqueue.Overrides{JobID: id})
	switch {
	case errors.Is(err, jobqueue.ErrJobExists):
		s.log.WithField("job_id", id).Debug("scheduler: tick already enqueued")
	case err != nil:
		s.log.WithError(err).WithField("kind", e.kind).Error("scheduler: enqueue tick failed")
	}
}

// RunJob enqueues an immediate run of the job called name.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*jobqueue.Job, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	q, closed := s.queue, s.closed
	s.mu.Unlock()
	if closed || q == nil {
		return nil, fmt.Errorf("scheduler: %w", jobqueue.ErrClosed)
	}

	job, err := q.Add(ctx, string(kind), nil)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"kind": kind, "job_id": job.ID}).Info("scheduler: manual run enqueued")
	return job, nil
}

func (s *Scheduler) process(ctx context.Context, job *jobqueue.Job) error {
	kind, err := ParseKind(job.Name)
	if err != nil {
		return jobqueue.Unrecoverable(err)
	}

	switch kind {
	case KindQueueDepthReport:
		return s.reportQueueDepth(ctx)
	case KindDeadLetterSweep:
		return s.sweepDeadLetters(ctx)
	}
	return jobqueue.Unrecoverable(fmt.Errorf("%w: %s", ErrUnknownKind, kind))
}

func (s *Scheduler) reportQueueDepth(ctx context.Context) error {
	var errs []error
	for _, name := range s.deps.Integrations.Names() {
		c, err := s.deps.Integrations.Get(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !c.Enabled() {
			continue
		}
		counts, err := c.Counts(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		jobqueue.ObserveCounts(outbound.QueueName(name), counts)
		s.log.WithFields(logrus.Fields{
			"integration": name,
			"waiting":     counts.Waiting,
			"delayed":     counts.Delayed,
			"active":      counts.Active,
			"failed":      counts.Failed,
			"dead":        counts.Dead,
		}).Info("scheduler: queue depth")
	}
	return errors.Join(errs...)
}

func (s *Scheduler) sweepDeadLetters(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.DeadLetterRetention)

	var errs []error
	for _, name := range s.deps.Integrations.Names() {
		c, err := s.deps.Integrations.Get(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !c.Enabled() {
			continue
		}
		n, err := c.PurgeDeadLetters(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if n > 0 {
			s.log.WithFields(logrus.Fields{"integration": name, "purged": n}).Info("scheduler: dead letters purged")
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) onFailed(w *jobqueue.Worker, job *jobqueue.Job, err error) {
	summary := jobqueue.Summarize(err, 2048)
	if logErr := w.Log(context.Background(), job, summary); logErr != nil {
		s.log.WithError(logErr).WithField("job_id", job.ID).Debug("scheduler: attach job log failed")
	}
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "kind": job.Name}).
		Errorf("scheduler: %s failed: %s", job.Name, summary)
}

// Close stops the cron entries, drains the worker, then closes the queue.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	c, w, q := s.cron, s.worker, s.queue
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	var errs []error
	if w != nil {
		errs = append(errs, w.Close(ctx))
	}
	if q != nil {
		errs = append(errs, q.Close())
	}
	return errors.Join(errs...)
}
