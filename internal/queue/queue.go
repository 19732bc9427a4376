// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/audiolevel/audiolevel/internal/log"
)

// ErrNotFound reports a job ID with no stored record.
var ErrNotFound = errors.New("job not found")

var jobEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiolevel",
	Name:      "queue_job_events_total",
	Help:      "Job lifecycle events by kind",
}, []string{"event"})

// Options tunes queue behavior; zero values pick the documented defaults.
type Options struct {
	Prefix          string        // key namespace, default "al"
	MaxAttempts     int           // default 3
	BackoffBase     time.Duration // first retry delay, default 1s, doubles per attempt
	LeaseTTL        time.Duration // active-job lease, default 90s
	PollInterval    time.Duration // dequeue poll, default 250ms
	Retention       time.Duration // terminal record lifetime, default 15m
	MaxRecords      int           // hard cap on stored records, default 500
	MaxConcurrent   int           // worker pool size, for wait estimates
	MeanJobDuration time.Duration // per-slot estimate, default 60s
}

func (o *Options) withDefaults() {
	if o.Prefix == "" {
		o.Prefix = "al"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 90 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.Retention <= 0 {
		o.Retention = 15 * time.Minute
	}
	if o.MaxRecords <= 0 {
		o.MaxRecords = 500
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.MeanJobDuration <= 0 {
		o.MeanJobDuration = time.Minute
	}
}

// Queue is the redis-backed priority job queue. Every state transition is
// a single Lua script, so concurrent workers and sweepers cannot observe
// or create half-applied states.
type Queue struct {
	rdb    *redis.Client
	opts   Options
	logger zerolog.Logger
}

// New creates a queue on the given redis client.
func New(rdb *redis.Client, opts Options) *Queue {
	opts.withDefaults()
	return &Queue{
		rdb:    rdb,
		opts:   opts,
		logger: log.WithComponent("queue"),
	}
}

func (q *Queue) key(parts ...string) string {
	k := q.opts.Prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (q *Queue) jobKey(id string) string   { return q.key("job", id) }
func (q *Queue) leaseKey(id string) string { return q.key("lease", id) }

// Ping verifies store connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue assigns queue-owned fields and places the job on the ready
// queue. The caller must have set ID, paths, size and priority.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	now := time.Now().UnixMilli()
	job.State = StateWaiting
	job.Progress = 0
	job.AttemptsMade = 0
	job.MaxAttempts = q.opts.MaxAttempts
	job.CreatedAt = now
	job.UpdatedAt = now

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.key("ready"), q.key("seq"), q.key("ids")},
		job.ID, string(raw), int(job.Priority), now,
	).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	jobEvents.WithLabelValues("enqueued").Inc()
	q.logger.Info().
		Str("job_id", job.ID).
		Int("priority", int(job.Priority)).
		Int64("size", job.FileSize).
		Msg("job enqueued")
	return nil
}

// TryDequeue attempts a single non-blocking dequeue after promoting due
// delayed jobs. The second return is false when the queue is idle.
func (q *Queue) TryDequeue(ctx context.Context) (*Job, bool, error) {
	if _, err := q.PromoteDelayed(ctx); err != nil {
		return nil, false, err
	}
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.key("ready")},
		q.opts.Prefix, time.Now().UnixMilli(), uuid.NewString(), q.opts.LeaseTTL.Milliseconds(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dequeue: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, false, fmt.Errorf("dequeue: unexpected script reply %T", res)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, fmt.Errorf("decode job: %w", err)
	}
	return &job, true, nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		job, ok, err := q.TryDequeue(ctx)
		if err != nil {
			q.logger.Warn().Err(err).Msg("dequeue attempt failed")
		} else if ok {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Get loads a job snapshot.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// UpdateProgress advances a job's progress. Regressions are clamped to
// the stored value and terminal jobs are left untouched.
func (q *Queue) UpdateProgress(ctx context.Context, id string, percent float64, stage string) error {
	return progressScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id)},
		percent, stage, time.Now().UnixMilli(),
	).Err()
}

// Complete transitions an active job to completed with its result.
func (q *Queue) Complete(ctx context.Context, id string, result Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	n, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("active"), q.leaseKey(id), q.key("stats", "completed")},
		id, string(raw), time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("complete %s: job not active", id)
	}
	jobEvents.WithLabelValues("completed").Inc()
	q.logger.Info().Str("job_id", id).Str("winner", result.WinnerName).Msg("job completed")
	return nil
}

// Fail records an attempt failure. With attempts remaining the job is
// parked for an exponentially backed-off retry; otherwise it is terminal.
// The returned state is either StateDelayed or StateFailed.
func (q *Queue) Fail(ctx context.Context, id, reason string) (State, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}
	// 1s, 2s, 4s, ... per consumed attempt.
	delay := q.opts.BackoffBase * time.Duration(1<<uint(max(job.AttemptsMade-1, 0)))
	now := time.Now()

	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.key("active"), q.leaseKey(id), q.key("delayed"), q.key("stats", "failed")},
		id, reason, now.UnixMilli(), now.Add(delay).UnixMilli(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("fail %s: job not active", id)
	}
	if err != nil {
		return "", fmt.Errorf("fail %s: %w", id, err)
	}

	state := State(res)
	if state == StateDelayed {
		jobEvents.WithLabelValues("retried").Inc()
		q.logger.Warn().Str("job_id", id).Str("reason", reason).Dur("backoff", delay).Msg("job delayed for retry")
	} else {
		jobEvents.WithLabelValues("failed").Inc()
		q.logger.Error().Str("job_id", id).Str("reason", reason).Msg("job failed permanently")
	}
	return state, nil
}

// RenewLease extends the worker's claim on an active job. A false return
// means the lease expired and the job may have been handed to another
// worker; the holder must abandon it.
func (q *Queue) RenewLease(ctx context.Context, id string) (bool, error) {
	ok, err := q.rdb.Expire(ctx, q.leaseKey(id), q.opts.LeaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", id, err)
	}
	return ok, nil
}

// PromoteDelayed moves retry-due jobs back onto the ready queue.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("ready"), q.key("seq")},
		q.opts.Prefix, time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return n, nil
}

// RequeueStalled resurfaces active jobs whose worker stopped renewing its
// lease. Jobs with attempts left go back to waiting; exhausted ones fail.
func (q *Queue) RequeueStalled(ctx context.Context) (int, error) {
	n, err := stalledScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("ready"), q.key("seq"), q.key("stats", "failed")},
		q.opts.Prefix, time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	if n > 0 {
		jobEvents.WithLabelValues("stalled").Add(float64(n))
		q.logger.Warn().Int("count", n).Msg("stalled jobs recovered")
	}
	return n, nil
}

// Evicted describes a purged job record, with the file paths the caller
// should delete.
type Evicted struct {
	ID         string
	InputPath  string
	OutputPath string
}

// EvictExpired purges terminal job records past the retention age, plus
// the oldest terminal records beyond the record cap. Non-terminal jobs
// are never evicted. Eviction is advisory housekeeping, so it runs as
// plain reads and deletes rather than a script.
func (q *Queue) EvictExpired(ctx context.Context) ([]Evicted, error) {
	now := time.Now()
	cutoff := now.Add(-q.opts.Retention).UnixMilli()

	ids, err := q.rdb.ZRangeByScoreWithScores(ctx, q.key("ids"), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list job ids: %w", err)
	}

	// ids are scored by creation time, so the range is oldest-first and
	// the first overCap entries are the cap-eviction candidates.
	overCap := len(ids) - q.opts.MaxRecords
	var evicted []Evicted
	for i, z := range ids {
		id, _ := z.Member.(string)
		if id == "" {
			continue
		}
		expired := int64(z.Score) <= cutoff
		if !expired && i >= overCap {
			break
		}
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = q.rdb.ZRem(ctx, q.key("ids"), id).Err()
			continue
		}
		if err != nil {
			return evicted, err
		}
		if !job.State.Terminal() {
			continue
		}
		if err := q.rdb.Del(ctx, q.jobKey(id)).Err(); err != nil {
			return evicted, fmt.Errorf("evict %s: %w", id, err)
		}
		_ = q.rdb.ZRem(ctx, q.key("ids"), id).Err()
		jobEvents.WithLabelValues("evicted").Inc()
		ev := Evicted{ID: id, InputPath: job.InputPath}
		if job.Result != nil {
			ev.OutputPath = job.Result.OutputPath
		}
		evicted = append(evicted, ev)
	}
	if len(evicted) > 0 {
		q.logger.Info().Int("count", len(evicted)).Msg("expired job records evicted")
	}
	return evicted, nil
}

// Counts is the per-state census plus lifetime terminal counters.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Counts reads the census in one pipeline round trip.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("ready"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.SCard(ctx, q.key("active"))
	completed := pipe.Get(ctx, q.key("stats", "completed"))
	failed := pipe.Get(ctx, q.key("stats", "failed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	c := Counts{
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Active:  active.Val(),
	}
	c.Completed, _ = completed.Int64()
	c.Failed, _ = failed.Int64()
	return c, nil
}

// EstimatedWait is the advertised time before a newly admitted job starts.
func (q *Queue) EstimatedWait(waiting int64) time.Duration {
	slots := int64(q.opts.MaxConcurrent)
	rounds := int64(math.Ceil(float64(waiting) / float64(slots)))
	return time.Duration(rounds) * q.opts.MeanJobDuration
}
