// Package redis implements jobqueue.Store on Redis. Waiting jobs live in a
// list, scheduled and leased jobs in sorted sets scored by unix milliseconds,
// and each job in its own hash.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/logging"
)

const DefaultPrefix = "outbound"

type Options struct {
	Prefix           string
	DeadLetterMaxLen int
	Logger           *logrus.Entry
	// Now overrides the clock used for lease and retention bookkeeping.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.DeadLetterMaxLen == 0 {
		o.DeadLetterMaxLen = 1000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
}

type Store struct {
	client goredis.UniversalClient
	opts   Options
}

var _ jobqueue.Store = (*Store)(nil)

// New wraps client. The Store owns the client and closes it on Close.
func New(client goredis.UniversalClient, opts Options) *Store {
	opts.setDefaults()
	return &Store{client: client, opts: opts}
}

func (s *Store) keys(queue string) keys {
	return keys{prefix: s.opts.Prefix, queue: queue}
}

func (s *Store) Add(ctx context.Context, job *jobqueue.Job) error {
	k := s.keys(job.Queue)
	runAt := s.opts.Now()
	if job.State == jobqueue.StateDelayed {
		runAt = runAt.Add(job.Opts.Delay)
	} else {
		job.State = jobqueue.StateWaiting
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	ok, err := s.run(ctx, addScript,
		[]string{k.job(job.ID), k.wait(), k.delayed()},
		job.ID, data, job.Opts.Attempts, string(job.State), ms(runAt),
	)
	if err != nil {
		return fmt.Errorf("add %s: %w", job.ID, err)
	}
	if !ok {
		return jobqueue.ErrJobExists
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, queue string, lease time.Duration) (*jobqueue.Job, error) {
	k := s.keys(queue)
	now := s.opts.Now()

	res, err := claimScript.Run(ctx, s.client,
		[]string{k.wait(), k.active()},
		ms(now.Add(lease)), k.jobPrefix(), ms(now),
	).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", queue, err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeJob(fields)
}

// run executes a transition script and reports whether it applied.
func (s *Store) run(ctx context.Context, script *goredis.Script, keys []string, args ...any) (bool, error) {
	n, err := script.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// leased runs a transition that requires the job to hold a lease; exactly one
// caller wins and everyone else gets ErrJobNotActive.
func (s *Store) leased(ctx context.Context, script *goredis.Script, keys []string, args ...any) error {
	ok, err := s.run(ctx, script, keys, args...)
	if err != nil {
		return err
	}
	if !ok {
		return jobqueue.ErrJobNotActive
	}
	return nil
}

func (s *Store) Extend(ctx context.Context, job *jobqueue.Job, lease time.Duration) error {
	k := s.keys(job.Queue)
	return s.leased(ctx, extendScript, []string{k.active()}, job.ID, ms(s.opts.Now().Add(lease)))
}

func (s *Store) Release(ctx context.Context, job *jobqueue.Job) error {
	k := s.keys(job.Queue)
	if err := s.leased(ctx, releaseScript, []string{k.active(), k.wait(), k.job(job.ID)}, job.ID); err != nil {
		return err
	}
	job.AttemptsMade--
	job.State = jobqueue.StateWaiting
	return nil
}

func (s *Store) Complete(ctx context.Context, job *jobqueue.Job) error {
	k := s.keys(job.Queue)
	now := s.opts.Now()
	remove := job.Opts.Retention.RemoveOnComplete

	err := s.leased(ctx, completeScript,
		[]string{k.active(), k.completed(), k.job(job.ID), k.logs(job.ID)},
		job.ID, ms(now), flag(remove),
	)
	if err != nil {
		return err
	}
	finished := now.UTC()
	job.State = jobqueue.StateCompleted
	job.FinishedAt = &finished

	if remove {
		return nil
	}
	if err := s.prune(ctx, k, k.completed(), now, job.Opts.Retention.KeepFor); err != nil {
		s.opts.Logger.WithError(err).WithField("queue", job.Queue).Warn("jobqueue: prune completed jobs failed")
	}
	return nil
}

func (s *Store) Retry(ctx context.Context, job *jobqueue.Job, runAt time.Time, reason string) error {
	k := s.keys(job.Queue)
	err := s.leased(ctx, retryScript,
		[]string{k.active(), k.delayed(), k.job(job.ID)},
		job.ID, ms(runAt), reason,
	)
	if err != nil {
		return err
	}
	job.State = jobqueue.StateDelayed
	job.FailedReason = reason
	return nil
}

func (s *Store) Fail(ctx context.Context, job *jobqueue.Job, dl jobqueue.DeadLetter) error {
	k := s.keys(job.Queue)
	now := s.opts.Now()
	keys, args, err := s.failArgs(k, job, dl, now)
	if err != nil {
		return err
	}
	if err := s.leased(ctx, failScript, keys, args...); err != nil {
		return err
	}
	markFailed(job, dl, now)
	s.afterFail(ctx, k, job, now)
	return nil
}

func (s *Store) failArgs(k keys, job *jobqueue.Job, dl jobqueue.DeadLetter, now time.Time) ([]string, []any, error) {
	entry, err := json.Marshal(dl)
	if err != nil {
		return nil, nil, fmt.Errorf("encode dead letter %s: %w", job.ID, err)
	}
	keys := []string{k.active(), k.job(job.ID), k.logs(job.ID), k.dead(), k.deadEntries(), k.failed()}
	args := []any{job.ID, entry, ms(dl.FailedAt), ms(now), dl.Error, flag(job.Opts.Retention.RemoveOnFail)}
	return keys, args, nil
}

func markFailed(job *jobqueue.Job, dl jobqueue.DeadLetter, now time.Time) {
	finished := now.UTC()
	job.State = jobqueue.StateFailed
	job.FailedReason = dl.Error
	job.FinishedAt = &finished
}

// afterFail trims the dead letters and prunes old failed jobs. Errors are logged;
// the job itself has already moved.
func (s *Store) afterFail(ctx context.Context, k keys, job *jobqueue.Job, now time.Time) {
	log := s.opts.Logger.WithField("queue", job.Queue)
	if err := s.trimDeadLetters(ctx, k); err != nil {
		log.WithError(err).Warn("jobqueue: trim dead letters failed")
	}
	if job.Opts.Retention.RemoveOnFail {
		return
	}
	if err := s.prune(ctx, k, k.failed(), now, job.Opts.Retention.KeepFor); err != nil {
		log.WithError(err).Warn("jobqueue: prune of failed jobs did not finish")
	}
}

func (s *Store) trimDeadLetters(ctx context.Context, k keys) error {
	over, err := s.client.ZRange(ctx, k.dead(), 0, int64(-s.opts.DeadLetterMaxLen-1)).Result()
	if err != nil || len(over) == 0 {
		return err
	}
	return s.dropDeadLetters(ctx, k, over)
}

func (s *Store) dropDeadLetters(ctx context.Context, k keys, ids []string) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, k.dead(), members...)
		pipe.HDel(ctx, k.deadEntries(), ids...)
		return nil
	})
	return err
}

// prune drops finished jobs in set that are older than keepFor.
func (s *Store) prune(ctx context.Context, k keys, set string, now time.Time, keepFor time.Duration) error {
	if keepFor <= 0 {
		return nil
	}
	ids, err := s.client.ZRangeByScore(ctx, set, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(now.Add(-keepFor)), 10),
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range ids {
			pipe.ZRem(ctx, set, id)
			pipe.Del(ctx, k.job(id), k.logs(id))
		}
		return nil
	})
	return err
}

func (s *Store) AppendLog(ctx context.Context, job *jobqueue.Job, line string) error {
	k := s.keys(job.Queue)
	n, err := s.client.Exists(ctx, k.job(job.ID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobqueue.ErrJobNotFound
	}
	return s.client.RPush(ctx, k.logs(job.ID), line).Err()
}

func (s *Store) Logs(ctx context.Context, queue, jobID string) ([]string, error) {
	return s.client.LRange(ctx, s.keys(queue).logs(jobID), 0, -1).Result()
}

func (s *Store) Get(ctx context.Context, queue, jobID string) (*jobqueue.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.keys(queue).job(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, jobqueue.ErrJobNotFound
	}
	return decodeJob(fields)
}

// promoteBatch bounds how many delayed jobs one Promote call moves.
const promoteBatch = 1000

func (s *Store) Promote(ctx context.Context, queue string, now time.Time) (int, error) {
	k := s.keys(queue)
	return promoteScript.Run(ctx, s.client,
		[]string{k.delayed(), k.wait()},
		ms(now), promoteBatch, k.jobPrefix(),
	).Int()
}

func (s *Store) Reclaim(ctx context.Context, queue string, now time.Time) ([]*jobqueue.Job, error) {
	k := s.keys(queue)
	ids, err := s.due(ctx, k.active(), now)
	if err != nil {
		return nil, err
	}

	var stalled []*jobqueue.Job
	// Walk backwards so the oldest lease ends up first in line.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		job, err := s.Get(ctx, queue, id)
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			if err := s.client.ZRem(ctx, k.active(), id).Err(); err != nil {
				return stalled, err
			}
			continue
		}
		if err != nil {
			return stalled, err
		}

		dl := jobqueue.NewDeadLetter(job, jobqueue.ReasonStalled, jobqueue.ErrStalled.Error(), now.UTC())
		keys, args, err := s.failArgs(k, job, dl, now)
		if err != nil {
			return stalled, err
		}
		res, err := reclaimScript.Run(ctx, s.client, append(keys, k.wait()), args...).Int()
		if err != nil {
			return stalled, err
		}
		if res != 2 {
			continue
		}
		markFailed(job, dl, now)
		s.afterFail(ctx, k, job, now)
		stalled = append([]*jobqueue.Job{job}, stalled...)
	}
	return stalled, nil
}

func (s *Store) due(ctx context.Context, set string, now time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, set, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(now), 10),
	}).Result()
}

func (s *Store) Counts(ctx context.Context, queue string) (jobqueue.Counts, error) {
	k := s.keys(queue)
	var waiting, delayed, active, completed, failed, dead *goredis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		waiting = pipe.LLen(ctx, k.wait())
		delayed = pipe.ZCard(ctx, k.delayed())
		active = pipe.ZCard(ctx, k.active())
		completed = pipe.ZCard(ctx, k.completed())
		failed = pipe.ZCard(ctx, k.failed())
		dead = pipe.ZCard(ctx, k.dead())
		return nil
	})
	if err != nil {
		return jobqueue.Counts{}, err
	}
	return jobqueue.Counts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Dead:      dead.Val(),
	}, nil
}

// DeadLetters lists the newest entries first. limit <= 0 returns all of them.
func (s *Store) DeadLetters(ctx context.Context, queue string, limit int) ([]jobqueue.DeadLetter, error) {
	k := s.keys(queue)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, k.dead(), 0, stop).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	raw, err := s.client.HMGet(ctx, k.deadEntries(), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]jobqueue.DeadLetter, 0, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var dl jobqueue.DeadLetter
		if err := json.Unmarshal([]byte(str), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter %s: %w", ids[i], err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (s *Store) ReplayDeadLetter(ctx context.Context, queue, jobID string) (*jobqueue.Job, error) {
	k := s.keys(queue)
	raw, err := s.client.HGet(ctx, k.deadEntries(), jobID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, jobqueue.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var dl jobqueue.DeadLetter
	if err := json.Unmarshal([]byte(raw), &dl); err != nil {
		return nil, fmt.Errorf("decode dead letter %s: %w", jobID, err)
	}

	opts := dl.Opts
	opts.Delay = 0
	job := &jobqueue.Job{
		ID:        dl.JobID,
		Queue:     queue,
		Name:      dl.Name,
		Payload:   dl.Payload,
		Opts:      opts,
		State:     jobqueue.StateWaiting,
		CreatedAt: s.opts.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", jobID, err)
	}

	res, err := replayScript.Run(ctx, s.client,
		[]string{k.deadEntries(), k.dead(), k.failed(), k.job(jobID), k.logs(jobID), k.wait()},
		jobID, data, opts.Attempts,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", jobID, err)
	}
	switch res {
	case -1:
		return nil, jobqueue.ErrJobNotFound
	case 0:
		return nil, jobqueue.ErrJobExists
	}
	return job, nil
}

// PurgeDeadLetters drops entries that failed before olderThan. A zero time drops all of them.
func (s *Store) PurgeDeadLetters(ctx context.Context, queue string, olderThan time.Time) (int, error) {
	k := s.keys(queue)
	maxScore := "+inf"
	if !olderThan.IsZero() {
		maxScore = "(" + strconv.FormatInt(ms(olderThan), 10)
	}
	ids, err := s.client.ZRangeByScore(ctx, k.dead(), &goredis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	if err := s.dropDeadLetters(ctx, k, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeJob(fields map[string]string) (*jobqueue.Job, error) {
	var job jobqueue.Job
	if err := json.Unmarshal([]byte(fields[fieldData]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if v, ok := fields[fieldAttemptsMade]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s attempts: %w", job.ID, err)
		}
		job.AttemptsMade = n
	}
	if v, ok := fields[fieldState]; ok {
		job.State = jobqueue.State(v)
	}
	job.FailedReason = fields[fieldFailedReason]
	job.ProcessedAt = fromMS(fields[fieldProcessedAt])
	job.FinishedAt = fromMS(fields[fieldFinishedAt])
	return &job, nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func fromMS(v string) *time.Time {
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(n).UTC()
	return &t
}
