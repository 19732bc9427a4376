// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/audiolevel/audiolevel/internal/log"
)

var rateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiolevel",
	Name:      "ratelimit_decisions_total",
	Help:      "Rate limiter outcomes",
}, []string{"outcome"})

// slidingWindowScript evaluates the bucket in one atomic step: expire old
// entries, count survivors, admit-and-record or refuse with the seconds
// until the oldest survivor ages out.
// KEYS: bucket. ARGV: nowMs, windowMs, maxRequests, nonce.
// Returns {allowed, used, retryAfterSeconds}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local used = redis.call('ZCARD', KEYS[1])
if used < max then
  redis.call('ZADD', KEYS[1], now, ARGV[1] .. '-' .. ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, used + 1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local retry = 1
if oldest[2] then
  retry = math.ceil((tonumber(oldest[2]) + window - now) / 1000)
  if retry < 1 then retry = 1 end
end
return {0, used, retry}
`)

// Limiter is the per-client sliding-window upload budget.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	max    int
	window time.Duration
	logger zerolog.Logger
}

// NewLimiter creates a limiter allowing max requests per window.
func NewLimiter(rdb *redis.Client, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		max:    max,
		window: window,
		logger: log.WithComponent("ratelimit"),
	}
}

// Decision is the limiter's verdict for one request.
type Decision struct {
	Allowed    bool
	Used       int
	RetryAfter int // seconds, meaningful when refused
}

func (l *Limiter) key(clientID string) string {
	return l.prefix + ":rate:" + clientID
}

// Allow consumes one unit of the client's budget. On a store failure the
// limiter fails open: a dead counter must not turn into a total outage.
func (l *Limiter) Allow(ctx context.Context, clientID string) Decision {
	res, err := slidingWindowScript.Run(ctx, l.rdb,
		[]string{l.key(clientID)},
		time.Now().UnixMilli(), l.window.Milliseconds(), l.max, uuid.NewString(),
	).Int64Slice()
	if err != nil || len(res) != 3 {
		rateDecisions.WithLabelValues("fail_open").Inc()
		l.logger.Warn().Err(err).Str("client", clientID).Msg("rate limit store unavailable, failing open")
		return Decision{Allowed: true}
	}
	d := Decision{
		Allowed:    res[0] == 1,
		Used:       int(res[1]),
		RetryAfter: int(res[2]),
	}
	if d.Allowed {
		rateDecisions.WithLabelValues("allowed").Inc()
	} else {
		rateDecisions.WithLabelValues("refused").Inc()
	}
	return d
}

// BucketStatus is the read-only view exposed on the rate-limit endpoint.
type BucketStatus struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Used      int   `json:"used"`
	ResetAt   int64 `json:"resetAt"` // unix ms, 0 when the bucket is empty
	WindowMs  int64 `json:"windowMs"`
}

// Status inspects the client's bucket without consuming budget.
func (l *Limiter) Status(ctx context.Context, clientID string) BucketStatus {
	st := BucketStatus{Limit: l.max, Remaining: l.max, WindowMs: l.window.Milliseconds()}
	now := time.Now().UnixMilli()
	key := l.key(clientID)

	if err := l.rdb.ZRemRangeByScore(ctx, key, "-inf",
		strconv.FormatInt(now-l.window.Milliseconds(), 10)).Err(); err != nil {
		return st
	}
	used, err := l.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return st
	}
	st.Used = int(used)
	st.Remaining = int(math.Max(0, float64(l.max)-float64(used)))

	if used > 0 {
		oldest, err := l.rdb.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) == 1 {
			st.ResetAt = int64(oldest[0].Score) + l.window.Milliseconds()
		}
	}
	return st
}
