package jobqueue

import (
	"encoding/json"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one durable unit of work held by a Store.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attempts_made"`
	Opts         JobOptions      `json:"opts"`
	State        State           `json:"state"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// AttemptsLeft reports whether the job may run again after a failure.
func (j *Job) AttemptsLeft() bool {
	return j.AttemptsMade < j.Opts.Attempts
}

const (
	ReasonUnrecoverable = "unrecoverable"
	ReasonExhausted     = "exhausted"
	ReasonStalled       = "stalled"
)

// DeadLetter is the inspection record kept for a job that reached the terminal path.
type DeadLetter struct {
	JobID        string          `json:"job_id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attempts_made"`
	Attempts     int             `json:"attempts"`
	Opts         JobOptions      `json:"opts"`
	Reason       string          `json:"reason"`
	Error        string          `json:"error"`
	FailedAt     time.Time       `json:"failed_at"`
}

func NewDeadLetter(j *Job, reason, lastErr string, at time.Time) DeadLetter {
	return DeadLetter{
		JobID:        j.ID,
		Queue:        j.Queue,
		Name:         j.Name,
		Payload:      j.Payload,
		AttemptsMade: j.AttemptsMade,
		Attempts:     j.Opts.Attempts,
		Opts:         j.Opts,
		Reason:       reason,
		Error:        lastErr,
		FailedAt:     at,
	}
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
}
