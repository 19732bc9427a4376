// SPDX-License-Identifier: MIT

package queue

import "github.com/redis/go-redis/v9"

// Ready-queue score packs priority into the high bits and a monotonic
// sequence into the low 48, giving strict FIFO within each priority band.
// 2^48 sequence values fit losslessly in Lua's double arithmetic.
const scoreShift = "281474976710656" // 2^48

// enqueueScript stores the job record and places it on the ready queue.
// KEYS: job, ready, seq, ids. ARGV: id, json, priority, createdAtMs.
var enqueueScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[2])
local seq = redis.call('INCR', KEYS[3])
local score = tonumber(ARGV[3]) * ` + scoreShift + ` + seq
redis.call('ZADD', KEYS[2], score, ARGV[1])
redis.call('ZADD', KEYS[4], tonumber(ARGV[4]), ARGV[1])
return seq
`)

// dequeueScript pops the best-ranked ready job, marks it active, counts
// the attempt and grants a lease — one atomic step, so no two workers can
// hold the same job. KEYS: ready. ARGV: prefix, nowMs, leaseToken,
// leaseTTLMs. Returns the updated job JSON or false when idle.
var dequeueScript = redis.NewScript(`
local id = redis.call('ZRANGE', KEYS[1], 0, 0)[1]
if not id then return false end
redis.call('ZREM', KEYS[1], id)
local key = ARGV[1] .. ':job:' .. id
local raw = redis.call('GET', key)
if not raw then return false end
local job = cjson.decode(raw)
job['state'] = 'active'
job['attemptsMade'] = (tonumber(job['attemptsMade']) or 0) + 1
job['updatedAt'] = tonumber(ARGV[2])
raw = cjson.encode(job)
redis.call('SET', key, raw)
redis.call('SADD', ARGV[1] .. ':active', id)
redis.call('SET', ARGV[1] .. ':lease:' .. id, ARGV[3], 'PX', tonumber(ARGV[4]))
return raw
`)

// progressScript advances progress monotonically while the job is active.
// KEYS: job. ARGV: percent, stage, nowMs. Returns 1 when applied.
var progressScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local job = cjson.decode(raw)
if job['state'] ~= 'active' then return 0 end
local p = tonumber(ARGV[1])
local cur = tonumber(job['progress']) or 0
if p < cur then p = cur end
job['progress'] = p
if ARGV[2] ~= '' then job['stage'] = ARGV[2] end
job['updatedAt'] = tonumber(ARGV[3])
redis.call('SET', KEYS[1], cjson.encode(job))
return 1
`)

// completeScript finalizes an active job with its result. KEYS: job,
// active, lease, completedCounter. ARGV: id, resultJSON, nowMs.
var completeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local job = cjson.decode(raw)
if job['state'] ~= 'active' then return 0 end
job['state'] = 'completed'
job['progress'] = 100
job['stage'] = 'done'
job['result'] = cjson.decode(ARGV[2])
job['failedReason'] = nil
job['updatedAt'] = tonumber(ARGV[3])
redis.call('SET', KEYS[1], cjson.encode(job))
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
redis.call('INCR', KEYS[4])
return 1
`)

// failScript either parks the job for a delayed retry or marks it failed
// when attempts are exhausted. KEYS: job, active, lease, delayed,
// failedCounter. ARGV: id, reason, nowMs, readyAtMs. Returns the new
// state.
var failScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return false end
local job = cjson.decode(raw)
if job['state'] ~= 'active' then return false end
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[3])
job['failedReason'] = ARGV[2]
job['updatedAt'] = tonumber(ARGV[3])
if (tonumber(job['attemptsMade']) or 0) < (tonumber(job['maxAttempts']) or 1) then
  job['state'] = 'delayed'
  redis.call('SET', KEYS[1], cjson.encode(job))
  redis.call('ZADD', KEYS[4], tonumber(ARGV[4]), ARGV[1])
  return 'delayed'
end
job['state'] = 'failed'
redis.call('SET', KEYS[1], cjson.encode(job))
redis.call('INCR', KEYS[5])
return 'failed'
`)

// promoteScript moves due delayed jobs back onto the ready queue. KEYS:
// delayed, ready, seq. ARGV: prefix, nowMs. Returns the promotion count.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2], 'LIMIT', 0, 100)
local n = 0
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  local key = ARGV[1] .. ':job:' .. id
  local raw = redis.call('GET', key)
  if raw then
    local job = cjson.decode(raw)
    job['state'] = 'waiting'
    job['updatedAt'] = tonumber(ARGV[2])
    redis.call('SET', key, cjson.encode(job))
    local seq = redis.call('INCR', KEYS[3])
    local score = (tonumber(job['priority']) or 2) * ` + scoreShift + ` + seq
    redis.call('ZADD', KEYS[2], score, id)
    n = n + 1
  end
end
return n
`)

// stalledScript resurfaces active jobs whose lease has expired: back to
// ready when attempts remain, else failed. The attempt already consumed at
// dequeue pays for the lost run. KEYS: active, ready, seq, failedCounter.
// ARGV: prefix, nowMs. Returns the number of recovered jobs.
var stalledScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, id in ipairs(ids) do
  if redis.call('EXISTS', ARGV[1] .. ':lease:' .. id) == 0 then
    redis.call('SREM', KEYS[1], id)
    local key = ARGV[1] .. ':job:' .. id
    local raw = redis.call('GET', key)
    if raw then
      local job = cjson.decode(raw)
      if job['state'] == 'active' then
        job['updatedAt'] = tonumber(ARGV[2])
        if (tonumber(job['attemptsMade']) or 0) < (tonumber(job['maxAttempts']) or 1) then
          job['state'] = 'waiting'
          redis.call('SET', key, cjson.encode(job))
          local seq = redis.call('INCR', KEYS[3])
          local score = (tonumber(job['priority']) or 2) * ` + scoreShift + ` + seq
          redis.call('ZADD', KEYS[2], score, id)
        else
          job['state'] = 'failed'
          job['failedReason'] = 'worker lease expired'
          redis.call('SET', key, cjson.encode(job))
          redis.call('INCR', KEYS[4])
        end
        n = n + 1
      end
    end
  end
end
return n
`)
