// Package memory is an in-process jobqueue.Store. State is lost on exit; it
// backs tests and single-process local runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/iota-uz/outbound/pkg/jobqueue"
)

type Options struct {
	DeadLetterMaxLen int
	// Now overrides the clock used for lease and retention bookkeeping.
	Now func() time.Time
}

type Store struct {
	mu     sync.Mutex
	opts   Options
	queues map[string]*queue
}

type queue struct {
	jobs      map[string]*jobqueue.Job
	waiting   []string
	delayed   map[string]time.Time
	active    map[string]time.Time
	completed map[string]time.Time
	failed    map[string]time.Time
	dead      []jobqueue.DeadLetter
	logs      map[string][]string
}

var _ jobqueue.Store = (*Store)(nil)

func New(opts Options) *Store {
	if opts.DeadLetterMaxLen == 0 {
		opts.DeadLetterMaxLen = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{opts: opts, queues: make(map[string]*queue)}
}

// Connector hands out the same Store for every role.
func (s *Store) Connector() jobqueue.Connector {
	return func(jobqueue.Role) (jobqueue.Store, error) { return s, nil }
}

func (s *Store) q(name string) *queue {
	q, ok := s.queues[name]
	if !ok {
		q = &queue{
			jobs:      make(map[string]*jobqueue.Job),
			delayed:   make(map[string]time.Time),
			active:    make(map[string]time.Time),
			completed: make(map[string]time.Time),
			failed:    make(map[string]time.Time),
			logs:      make(map[string][]string),
		}
		s.queues[name] = q
	}
	return q
}

func (s *Store) Add(_ context.Context, job *jobqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.jobs[job.ID]; ok {
		return jobqueue.ErrJobExists
	}
	q.jobs[job.ID] = clone(job)
	if job.State == jobqueue.StateDelayed {
		q.delayed[job.ID] = s.opts.Now().Add(job.Opts.Delay)
		return nil
	}
	q.jobs[job.ID].State = jobqueue.StateWaiting
	q.waiting = append(q.waiting, job.ID)
	return nil
}

func (s *Store) Claim(_ context.Context, queueName string, lease time.Duration) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(queueName)
	if len(q.waiting) == 0 {
		return nil, nil
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]

	now := s.opts.Now()
	j := q.jobs[id]
	j.AttemptsMade++
	j.State = jobqueue.StateActive
	processed := now.UTC()
	j.ProcessedAt = &processed
	q.active[id] = now.Add(lease)
	return clone(j), nil
}

func (s *Store) Extend(_ context.Context, job *jobqueue.Job, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return jobqueue.ErrJobNotActive
	}
	q.active[job.ID] = s.opts.Now().Add(lease)
	return nil
}

func (s *Store) Release(_ context.Context, job *jobqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return jobqueue.ErrJobNotActive
	}
	delete(q.active, job.ID)
	j := q.jobs[job.ID]
	j.AttemptsMade--
	j.State = jobqueue.StateWaiting
	q.waiting = append([]string{job.ID}, q.waiting...)
	job.AttemptsMade = j.AttemptsMade
	job.State = j.State
	return nil
}

func (s *Store) Complete(_ context.Context, job *jobqueue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return jobqueue.ErrJobNotActive
	}
	delete(q.active, job.ID)

	now := s.opts.Now()
	finished := now.UTC()
	job.State = jobqueue.StateCompleted
	job.FinishedAt = &finished

	if job.Opts.Retention.RemoveOnComplete {
		q.remove(job.ID)
		return nil
	}
	j := q.jobs[job.ID]
	j.State = job.State
	j.FinishedAt = &finished
	q.completed[job.ID] = now
	q.prune(q.completed, now, job.Opts.Retention.KeepFor)
	return nil
}

func (s *Store) Retry(_ context.Context, job *jobqueue.Job, runAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return jobqueue.ErrJobNotActive
	}
	delete(q.active, job.ID)

	j := q.jobs[job.ID]
	j.FailedReason = reason
	j.State = jobqueue.StateDelayed
	q.delayed[job.ID] = runAt
	job.FailedReason = reason
	job.State = j.State
	return nil
}

func (s *Store) Fail(_ context.Context, job *jobqueue.Job, dl jobqueue.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return jobqueue.ErrJobNotActive
	}
	delete(q.active, job.ID)
	s.fail(q, job, dl)
	return nil
}

func (s *Store) fail(q *queue, job *jobqueue.Job, dl jobqueue.DeadLetter) {
	now := s.opts.Now()
	finished := now.UTC()
	job.State = jobqueue.StateFailed
	job.FailedReason = dl.Error
	job.FinishedAt = &finished

	q.dead = append(q.dead, dl)
	if over := len(q.dead) - s.opts.DeadLetterMaxLen; over > 0 {
		q.dead = slices.Clone(q.dead[over:])
	}

	if job.Opts.Retention.RemoveOnFail {
		q.remove(job.ID)
		return
	}
	j := q.jobs[job.ID]
	j.State = job.State
	j.FailedReason = job.FailedReason
	j.FinishedAt = &finished
	q.failed[job.ID] = now
	q.prune(q.failed, now, job.Opts.Retention.KeepFor)
}

func (s *Store) AppendLog(_ context.Context, job *jobqueue.Job, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(job.Queue)
	if _, ok := q.jobs[job.ID]; !ok {
		return jobqueue.ErrJobNotFound
	}
	q.logs[job.ID] = append(q.logs[job.ID], line)
	return nil
}

func (s *Store) Logs(_ context.Context, queueName, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.q(queueName).logs[jobID]), nil
}

func (s *Store) Get(_ context.Context, queueName, jobID string) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.q(queueName).jobs[jobID]
	if !ok {
		return nil, jobqueue.ErrJobNotFound
	}
	return clone(j), nil
}

func (s *Store) Promote(_ context.Context, queueName string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(queueName)
	due := dueIDs(q.delayed, now)
	for _, id := range due {
		delete(q.delayed, id)
		q.jobs[id].State = jobqueue.StateWaiting
		q.waiting = append(q.waiting, id)
	}
	return len(due), nil
}

func (s *Store) Reclaim(_ context.Context, queueName string, now time.Time) ([]*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(queueName)
	var stalled []*jobqueue.Job
	expired := dueIDs(q.active, now)
	// Walk backwards so the oldest lease ends up first in line.
	for i := len(expired) - 1; i >= 0; i-- {
		id := expired[i]
		delete(q.active, id)
		j := q.jobs[id]
		if j.AttemptsLeft() {
			j.State = jobqueue.StateWaiting
			q.waiting = append([]string{id}, q.waiting...)
			continue
		}
		out := clone(j)
		dl := jobqueue.NewDeadLetter(out, jobqueue.ReasonStalled, jobqueue.ErrStalled.Error(), now.UTC())
		s.fail(q, out, dl)
		stalled = append(stalled, out)
	}
	slices.Reverse(stalled)
	return stalled, nil
}

func (s *Store) Counts(_ context.Context, queueName string) (jobqueue.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(queueName)
	return jobqueue.Counts{
		Waiting:   int64(len(q.waiting)),
		Delayed:   int64(len(q.delayed)),
		Active:    int64(len(q.active)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
		Dead:      int64(len(q.dead)),
	}, nil
}

// DeadLetters lists the newest entries first. limit <= 0 returns all of them.
func (s *Store) DeadLetters(_ context.Context, queueName string, limit int) ([]jobqueue.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Clone(s.q(queueName).dead)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReplayDeadLetter(_ context.Context, queueName, jobID string) (*jobqueue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(queueName)
	idx := slices.IndexFunc(q.dead, func(dl jobqueue.DeadLetter) bool { return dl.JobID == jobID })
	if idx < 0 {
		return nil, jobqueue.ErrJobNotFound
	}
	if _, kept := q.failed[jobID]; kept {
		q.remove(jobID)
	}
	if _, ok := q.jobs[jobID]; ok {
		return nil, jobqueue.ErrJobExists
	}

	dl := q.dead[idx]
	q.dead = slices.Delete(q.dead, idx, idx+1)

	job := replayJob(dl, s.opts.Now())
	q.jobs[job.ID] = clone(job)
	q.waiting = append(q.waiting, job.ID)
	return job, nil
}

// PurgeDeadLetters drops entries that failed before olderThan. A zero time drops all of them.
func (s *Store) PurgeDeadLetters(_ context.Context, queueName string, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.q(queueName)
	before := len(q.dead)
	q.dead = slices.DeleteFunc(q.dead, func(dl jobqueue.DeadLetter) bool {
		return olderThan.IsZero() || dl.FailedAt.Before(olderThan)
	})
	return before - len(q.dead), nil
}

func (s *Store) Close() error { return nil }

func (q *queue) remove(id string) {
	delete(q.jobs, id)
	delete(q.logs, id)
	delete(q.completed, id)
	delete(q.failed, id)
}

func (q *queue) prune(set map[string]time.Time, now time.Time, keepFor time.Duration) {
	if keepFor <= 0 {
		return
	}
	for _, id := range dueIDs(set, now.Add(-keepFor)) {
		q.remove(id)
	}
}

// dueIDs returns the ids scored at or before t, oldest first.
func dueIDs(set map[string]time.Time, t time.Time) []string {
	var ids []string
	for id, at := range set {
		if !at.After(t) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if set[ids[i]].Equal(set[ids[j]]) {
			return ids[i] < ids[j]
		}
		return set[ids[i]].Before(set[ids[j]])
	})
	return ids
}

func replayJob(dl jobqueue.DeadLetter, now time.Time) *jobqueue.Job {
	opts := dl.Opts
	opts.Delay = 0
	return &jobqueue.Job{
		ID:        dl.JobID,
		Queue:     dl.Queue,
		Name:      dl.Name,
		Payload:   dl.Payload,
		Opts:      opts,
		State:     jobqueue.StateWaiting,
		CreatedAt: now.UTC(),
	}
}

func clone(j *jobqueue.Job) *jobqueue.Job {
	c := *j
	c.Payload = slices.Clone(j.Payload)
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
