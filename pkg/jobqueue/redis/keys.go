package redis

// Key layout, all under Options.Prefix:
//
//	<prefix>:<queue>:wait              list of job ids, head is next
//	<prefix>:<queue>:delayed           zset id -> run-at (unix ms)
//	<prefix>:<queue>:active            zset id -> lease expiry (unix ms)
//	<prefix>:<queue>:completed         zset id -> finished-at (unix ms)
//	<prefix>:<queue>:failed            zset id -> finished-at (unix ms)
//	<prefix>:<queue>:dead              zset id -> failed-at (unix ms)
//	<prefix>:<queue>:dead:entries      hash id -> dead letter JSON
//	<prefix>:<queue>:job:<id>          hash of job fields
//	<prefix>:<queue>:job:<id>:logs     list of audit lines

type keys struct {
	prefix string
	queue  string
}

func (k keys) base() string         { return k.prefix + ":" + k.queue + ":" }
func (k keys) wait() string         { return k.base() + "wait" }
func (k keys) delayed() string      { return k.base() + "delayed" }
func (k keys) active() string       { return k.base() + "active" }
func (k keys) completed() string    { return k.base() + "completed" }
func (k keys) failed() string       { return k.base() + "failed" }
func (k keys) dead() string         { return k.base() + "dead" }
func (k keys) deadEntries() string  { return k.base() + "dead:entries" }
func (k keys) jobPrefix() string    { return k.base() + "job:" }
func (k keys) job(id string) string { return k.jobPrefix() + id }
func (k keys) logs(id string) string {
	return k.job(id) + ":logs"
}

// Job hash fields. data holds the immutable part of the job as JSON; the rest
// change while the job moves between states. The scripts also keep an
// attempts field so leases can be reclaimed without decoding data.
const (
	fieldData         = "data"
	fieldAttemptsMade = "attempts_made"
	fieldState        = "state"
	fieldFailedReason = "failed_reason"
	fieldProcessedAt  = "processed_at"
	fieldFinishedAt   = "finished_at"
)
