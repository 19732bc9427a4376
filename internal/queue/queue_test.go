// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, opts), mr
}

func testJob(id string, size int64) *Job {
	return &Job{
		ID:           id,
		InputPath:    "/uploads/" + id + "-input.mp3",
		OutputPath:   "/outputs/" + id + "-output.mp3",
		OriginalName: "episode.mp3",
		FileSize:     size,
		Priority:     PriorityForSize(size),
	}
}

func TestNewJobID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewJobID()
		require.NoError(t, err)
		assert.Len(t, id, 12)
		assert.True(t, ValidJobID(id), "id %q should be valid", id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestValidJobID(t *testing.T) {
	assert.True(t, ValidJobID("abcDEF123_-x"))
	assert.False(t, ValidJobID("short"))
	assert.False(t, ValidJobID("has.dot.....")) // 12 chars, bad alphabet
	assert.False(t, ValidJobID("abcDEF123_-xy"))
	assert.False(t, ValidJobID(""))
}

func TestPriorityForSize(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityForSize(1<<20))
	assert.Equal(t, PriorityNormal, PriorityForSize(10<<20))
	assert.Equal(t, PriorityLow, PriorityForSize(30<<20))
	assert.Equal(t, PriorityLowest, PriorityForSize(80<<20))
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	// Two large jobs first, then a small one: the small one jumps ahead,
	// the large ones keep their FIFO order.
	require.NoError(t, q.Enqueue(ctx, testJob("bigjob000001", 80<<20)))
	require.NoError(t, q.Enqueue(ctx, testJob("bigjob000002", 80<<20)))
	require.NoError(t, q.Enqueue(ctx, testJob("smalljob0001", 1<<20)))

	var order []string
	for i := 0; i < 3; i++ {
		job, ok, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		order = append(order, job.ID)
		assert.Equal(t, StateActive, job.State)
		assert.Equal(t, 1, job.AttemptsMade)
	}
	assert.Equal(t, []string{"smalljob0001", "bigjob000001", "bigjob000002"}, order)

	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "queue should be empty")
}

func TestProgressMonotonic(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("progressjob1", 1<<20)))
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.UpdateProgress(ctx, "progressjob1", 40, "executing"))
	require.NoError(t, q.UpdateProgress(ctx, "progressjob1", 25, "analyzing"))

	job, err := q.Get(ctx, "progressjob1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, job.Progress, "progress must never decrease")
	assert.Equal(t, "analyzing", job.Stage)
}

func TestCompleteIsTerminal(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("completejob1", 1<<20)))
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res := Result{
		OutputPath:     "/outputs/completejob1-output.mp3",
		OutputFormat:   "mp3",
		WinnerName:     "Balanced",
		IntegratedLUFS: -16.1,
		TruePeak:       -1.7,
	}
	require.NoError(t, q.Complete(ctx, "completejob1", res))

	job, err := q.Get(ctx, "completejob1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 100.0, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Balanced", job.Result.WinnerName)

	// Terminal: further progress updates are ignored.
	require.NoError(t, q.UpdateProgress(ctx, "completejob1", 10, "late"))
	job, err = q.Get(ctx, "completejob1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, job.Progress)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Completed)
	assert.Equal(t, int64(0), c.Active)
}

func TestFailRetriesThenExhausts(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxAttempts: 2, BackoffBase: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("retryjob0001", 1<<20)))

	// First attempt fails with one attempt left: delayed.
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	state, err := q.Fail(ctx, "retryjob0001", "toolchain exit 1")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, state)

	// Not ready until the backoff elapses; promotion happens inside
	// TryDequeue.
	time.Sleep(10 * time.Millisecond)
	job, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, job.AttemptsMade)

	// Second failure exhausts the attempts.
	state, err = q.Fail(ctx, "retryjob0001", "toolchain exit 1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	job, err = q.Get(ctx, "retryjob0001")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, "toolchain exit 1", job.FailedReason)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Failed)
}

func TestRequeueStalled(t *testing.T) {
	q, mr := newTestQueue(t, Options{LeaseTTL: time.Second})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("stalledjob01", 1<<20)))
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Lease still alive: nothing to recover.
	n, err := q.RequeueStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Worker dies: the lease lapses and the job resurfaces.
	mr.FastForward(2 * time.Second)
	n, err = q.RequeueStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stalledjob01", job.ID)
	assert.Equal(t, 2, job.AttemptsMade, "the lost run consumed an attempt")
}

func TestRenewLease(t *testing.T) {
	q, mr := newTestQueue(t, Options{LeaseTTL: time.Second})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("leasejob0001", 1<<20)))
	_, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.RenewLease(ctx, "leasejob0001")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = q.RenewLease(ctx, "leasejob0001")
	require.NoError(t, err)
	assert.False(t, ok, "renewal after expiry must report the lost lease")
}

func TestEvictExpired(t *testing.T) {
	q, _ := newTestQueue(t, Options{Retention: time.Nanosecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testJob("evictjob0001", 1<<20)))
	require.NoError(t, q.Enqueue(ctx, testJob("keptjob00001", 1<<20)))

	job, ok, err := q.TryDequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "evictjob0001", job.ID)
	require.NoError(t, q.Complete(ctx, "evictjob0001", Result{OutputPath: "/outputs/evictjob0001-output.mp3"}))

	time.Sleep(5 * time.Millisecond)
	evicted, err := q.EvictExpired(ctx)
	require.NoError(t, err)
	require.Len(t, evicted, 1, "only the terminal job is evictable")
	assert.Equal(t, "evictjob0001", evicted[0].ID)
	assert.Equal(t, "/outputs/evictjob0001-output.mp3", evicted[0].OutputPath)

	_, err = q.Get(ctx, "evictjob0001")
	assert.ErrorIs(t, err, ErrNotFound)

	// The waiting job survives retention.
	_, err = q.Get(ctx, "keptjob00001")
	require.NoError(t, err)
}

func TestHealthStatusLadder(t *testing.T) {
	assert.Equal(t, HealthNormal, statusFor(0))
	assert.Equal(t, HealthNormal, statusFor(9))
	assert.Equal(t, HealthWarning, statusFor(10))
	assert.Equal(t, HealthWarning, statusFor(49))
	assert.Equal(t, HealthOverloaded, statusFor(50))
}

func TestHealthAdmits(t *testing.T) {
	normal := Health{Status: HealthNormal}
	assert.True(t, normal.Admits(PriorityLowest))

	warning := Health{Counts: Counts{Waiting: 12}, Status: HealthWarning}
	assert.True(t, warning.Admits(PriorityHigh))
	assert.True(t, warning.Admits(PriorityNormal))
	assert.False(t, warning.Admits(PriorityLow))

	tight := Health{Counts: Counts{Waiting: 30}, Status: HealthWarning}
	assert.True(t, tight.Admits(PriorityHigh))
	assert.False(t, tight.Admits(PriorityNormal))

	overloaded := Health{Counts: Counts{Waiting: 60}, Status: HealthOverloaded}
	assert.False(t, overloaded.Admits(PriorityHigh))
}

func TestEstimatedWait(t *testing.T) {
	q, _ := newTestQueue(t, Options{MaxConcurrent: 2, MeanJobDuration: time.Minute})
	assert.Equal(t, time.Duration(0), q.EstimatedWait(0))
	assert.Equal(t, time.Minute, q.EstimatedWait(1))
	assert.Equal(t, time.Minute, q.EstimatedWait(2))
	assert.Equal(t, 2*time.Minute, q.EstimatedWait(3))
	assert.Equal(t, 25*time.Minute, q.EstimatedWait(50))
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q, _ := newTestQueue(t, Options{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(ctx)
		if err == nil {
			done <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), testJob("blockingjob1", 1<<20)))

	select {
	case job := <-done:
		assert.Equal(t, "blockingjob1", job.ID)
	case <-ctx.Done():
		t.Fatal("dequeue never returned the enqueued job")
	}
}
