package redis

import goredis "github.com/redis/go-redis/v9"

// Every state transition is one script so a job is never out of all lists at once.
// Scripts return 0 when the transition does not apply (job not leased, id taken).

// claimScript pops the head of the wait list, leases it and bumps its attempt
// counter. It returns the job hash as a flat field/value list.
//
// KEYS: wait, active. ARGV: lease expiry, job key prefix, now.
var claimScript = goredis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
local jobKey = ARGV[2] .. id
if redis.call('EXISTS', jobKey) == 0 then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
redis.call('HINCRBY', jobKey, 'attempts_made', 1)
redis.call('HSET', jobKey, 'state', 'active', 'processed_at', ARGV[3])
return redis.call('HGETALL', jobKey)
`)

// addScript stores a new job and queues it as waiting or delayed.
//
// KEYS: job, wait, delayed. ARGV: id, data, attempts, state, run-at.
var addScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'attempts', ARGV[3], 'attempts_made', 0, 'state', ARGV[4])
if ARGV[4] == 'delayed' then
  redis.call('ZADD', KEYS[3], ARGV[5], ARGV[1])
else
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
return 1
`)

// extendScript moves the lease expiry of a job that is still active.
//
// KEYS: active. ARGV: id, lease expiry.
var extendScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return 0
end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
return 1
`)

// releaseScript puts a leased job back at the head of the wait list and
// gives the attempt back.
//
// KEYS: active, wait, job. ARGV: id.
var releaseScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HINCRBY', KEYS[3], 'attempts_made', -1)
redis.call('HSET', KEYS[3], 'state', 'waiting')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// completeScript acknowledges a leased job, deleting it or keeping it in the
// completed set.
//
// KEYS: active, completed, job, logs. ARGV: id, now, remove ("1" or "0").
var completeScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
if ARGV[3] == '1' then
  redis.call('DEL', KEYS[3], KEYS[4])
  return 1
end
redis.call('HSET', KEYS[3], 'state', 'completed', 'finished_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// retryScript reschedules a leased job.
//
// KEYS: active, delayed, job. ARGV: id, run-at, reason.
var retryScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[3], 'state', 'delayed', 'failed_reason', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// failBody records the dead letter and moves the job to failed (or deletes it).
//
// KEYS: active, job, logs, dead, dead entries, failed.
// ARGV: id, dead letter JSON, failed-at, now, reason, remove ("1" or "0").
const failBody = `
local function fail()
  redis.call('HSET', KEYS[5], ARGV[1], ARGV[2])
  redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
  if ARGV[6] == '1' then
    redis.call('DEL', KEYS[2], KEYS[3])
  else
    redis.call('HSET', KEYS[2], 'state', 'failed', 'failed_reason', ARGV[5], 'finished_at', ARGV[4])
    redis.call('ZADD', KEYS[6], ARGV[4], ARGV[1])
  end
end
`

var failScript = goredis.NewScript(failBody + `
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
fail()
return 1
`)

// reclaimScript handles one expired lease: back to the head of the wait list
// when attempts are left (1), failed as stalled otherwise (2). A lease renewed
// since it was listed is left alone (0).
//
// KEYS: as failBody, then wait. ARGV: as failBody.
var reclaimScript = goredis.NewScript(failBody + `
local expiry = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not expiry or tonumber(expiry) > tonumber(ARGV[4]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('EXISTS', KEYS[2]) == 0 then
  return 0
end
local made = tonumber(redis.call('HGET', KEYS[2], 'attempts_made') or '0')
local attempts = tonumber(redis.call('HGET', KEYS[2], 'attempts') or '0')
if made < attempts then
  redis.call('HSET', KEYS[2], 'state', 'waiting')
  redis.call('LPUSH', KEYS[7], ARGV[1])
  return 1
end
fail()
return 2
`)

// promoteScript moves up to ARGV[2] due delayed jobs to the tail of the wait list.
//
// KEYS: delayed, wait. ARGV: now, batch, job key prefix.
var promoteScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local n = 0
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local jobKey = ARGV[3] .. id
  if redis.call('EXISTS', jobKey) == 1 then
    redis.call('HSET', jobKey, 'state', 'waiting')
    redis.call('RPUSH', KEYS[2], id)
    n = n + 1
  end
end
return n
`)

// replayScript re-adds a dead job as waiting and drops its dead letter. It
// returns -1 when there is no dead letter and 0 when the job id is taken.
//
// KEYS: dead entries, dead, failed, job, logs, wait. ARGV: id, data, attempts.
var replayScript = goredis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  return -1
end
if redis.call('ZREM', KEYS[3], ARGV[1]) == 1 then
  redis.call('DEL', KEYS[4], KEYS[5])
end
if redis.call('EXISTS', KEYS[4]) == 1 then
  return 0
end
redis.call('HSET', KEYS[4], 'data', ARGV[2], 'attempts', ARGV[3], 'attempts_made', 0, 'state', 'waiting')
redis.call('RPUSH', KEYS[6], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)
