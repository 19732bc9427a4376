// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"time"
)

// HealthStatus is the coarse load signal driving admission.
type HealthStatus string

const (
	HealthNormal     HealthStatus = "normal"
	HealthWarning    HealthStatus = "warning"
	HealthOverloaded HealthStatus = "overloaded"
)

// Waiting-count thresholds for the load ladder. Inside the warning band a
// second threshold tightens admission to HIGH priority only.
const (
	warningThreshold    = 10
	highOnlyThreshold   = 25
	overloadedThreshold = 50
)

// Health is the queue census with the derived load status and the wait
// estimate advertised to clients.
type Health struct {
	Counts
	Status        HealthStatus  `json:"status"`
	AcceptingJobs bool          `json:"acceptingJobs"`
	EstimatedWait time.Duration `json:"-"`
}

// Health derives the load status from the waiting depth.
func (q *Queue) Health(ctx context.Context) (Health, error) {
	c, err := q.Counts(ctx)
	if err != nil {
		return Health{}, err
	}
	h := Health{Counts: c, Status: statusFor(c.Waiting)}
	h.AcceptingJobs = h.Status != HealthOverloaded
	h.EstimatedWait = q.EstimatedWait(c.Waiting)
	return h, nil
}

func statusFor(waiting int64) HealthStatus {
	switch {
	case waiting >= overloadedThreshold:
		return HealthOverloaded
	case waiting >= warningThreshold:
		return HealthWarning
	default:
		return HealthNormal
	}
}

// Admits reports whether a job of the given priority may enter under the
// current load. Overloaded admits nothing; the warning band admits HIGH
// and NORMAL, narrowing to HIGH alone past its inner threshold.
func (h Health) Admits(p Priority) bool {
	switch h.Status {
	case HealthOverloaded:
		return false
	case HealthWarning:
		if h.Waiting >= highOnlyThreshold {
			return p == PriorityHigh
		}
		return p <= PriorityNormal
	default:
		return true
	}
}
