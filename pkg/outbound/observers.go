package outbound

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

const maxLoggedBytes = 2048

type auditLog interface {
	Log(ctx context.Context, job *jobqueue.Job, line string) error
}

func (d *Dispatcher) onCompleted(job *jobqueue.Job) {
	if !d.cfg.Debug {
		return
	}
	entry := d.log.WithFields(jobFields(job))

	if d.cfg.DebugLogTransform != nil {
		entry.WithField("job", d.cfg.DebugLogTransform(job)).Info("outbound: request succeeded")
		return
	}

	var req Request
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		entry.WithError(err).Warn("outbound: request succeeded, payload unreadable")
		return
	}
	entry.WithField("request", req.Redacted()).Info("outbound: request succeeded")
}

// onFailed runs after every failed attempt, once the worker has already
// rescheduled or failed the job.
func (d *Dispatcher) onFailed(audit auditLog, job *jobqueue.Job, err error) {
	summary := jobqueue.Summarize(err, maxLoggedBytes)

	// The job may already be gone (removeOnFail); the audit line is diagnostic only.
	if logErr := audit.Log(context.Background(), job, summary); logErr != nil {
		d.log.WithFields(jobFields(job)).WithError(logErr).Debug("outbound: attach job log failed")
	}

	entry := d.log.WithFields(jobFields(job)).WithFields(failureFields(job, err))

	if !IsTerminal(err) && job.AttemptsLeft() {
		entry.Warnf("outbound: request failed, will retry (attempt %d of %d): %s", job.AttemptsMade, job.Opts.Attempts, summary)
		return
	}

	reason := reasonOf(err)
	entry.WithField("reason", reason).
		Errorf("outbound: request failed after %d attempts: %s", job.AttemptsMade, summary)
	d.m.terminalTotal.WithLabelValues(d.cfg.Name, reason).Inc()

	var req Request
	_ = json.Unmarshal(job.Payload, &req)
	d.escalate(&DeliveryError{
		Integration:  d.cfg.Name,
		JobID:        job.ID,
		Request:      req,
		AttemptsMade: job.AttemptsMade,
		Attempts:     job.Opts.Attempts,
		Reason:       reason,
		Err:          err,
	})
}

// escalate hands err to OnTerminalFailure. A panicking hook is logged and
// does not take the worker down.
func (d *Dispatcher) escalate(err *DeliveryError) {
	if d.cfg.OnTerminalFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("job_id", err.JobID).Errorf("outbound: terminal failure handler panicked: %v", r)
		}
	}()
	d.cfg.OnTerminalFailure(err)
}

func failureFields(job *jobqueue.Job, err error) logrus.Fields {
	fields := logrus.Fields{"request": truncate(string(job.Payload))}
	if te, ok := transport.AsError(err); ok {
		if te.Status != 0 {
			fields["response_status"] = te.Status
		}
		if len(te.Body) > 0 {
			fields["response"] = truncate(string(te.Body))
		}
	}
	return fields
}

func truncate(s string) string {
	if len(s) <= maxLoggedBytes {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", jobqueue.Truncate(s, maxLoggedBytes), len(s))
}
