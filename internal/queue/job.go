// SPDX-License-Identifier: MIT

// Package queue implements the redis-backed priority job queue: admission
// to terminal state, exponential retry, progress updates, stalled-job
// recovery and retention eviction. Redis serializes all state transitions.
package queue

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
)

// State is the job lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Terminal reports whether the state is final. Terminal states never
// change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Priority orders jobs in the ready queue; lower numeric priority is
// served first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
	PriorityLowest Priority = 4
)

// Size bands for priority assignment at admission.
const (
	sizeBandHigh   = 5 << 20  // < 5 MB
	sizeBandNormal = 25 << 20 // < 25 MB
	sizeBandLow    = 50 << 20 // < 50 MB
)

// PriorityForSize maps upload size to queue priority: small files first.
func PriorityForSize(bytes int64) Priority {
	switch {
	case bytes < sizeBandHigh:
		return PriorityHigh
	case bytes < sizeBandNormal:
		return PriorityNormal
	case bytes < sizeBandLow:
		return PriorityLow
	default:
		return PriorityLowest
	}
}

// Result is the durable outcome of a completed job.
type Result struct {
	OutputPath     string  `json:"outputPath"`
	OutputFormat   string  `json:"outputFormat"`
	WinnerName     string  `json:"winnerName"`
	Reason         string  `json:"reason"`
	QualityMethod  string  `json:"qualityMethod"`
	IntegratedLUFS float64 `json:"integratedLufs"`
	TruePeak       float64 `json:"truePeak"`
}

// Job is the unit of work. Owned by the queue between enqueue and dequeue,
// then by exactly one worker until terminal.
type Job struct {
	ID           string   `json:"jobId"`
	InputPath    string   `json:"inputPath"`
	OutputPath   string   `json:"outputPath"`
	OriginalName string   `json:"originalName"`
	FileSize     int64    `json:"fileSize"`
	Priority     Priority `json:"priority"`
	AttemptsMade int      `json:"attemptsMade"`
	MaxAttempts  int      `json:"maxAttempts"`
	State        State    `json:"state"`
	Progress     float64  `json:"progress"` // [0,100]
	Stage        string   `json:"stage,omitempty"`
	Result       *Result  `json:"result,omitempty"`
	FailedReason string   `json:"failedReason,omitempty"`
	CreatedAt    int64    `json:"createdAt"` // unix ms
	UpdatedAt    int64    `json:"updatedAt"` // unix ms
}

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)

// ValidJobID reports whether s is a well-formed job identifier.
func ValidJobID(s string) bool {
	return jobIDPattern.MatchString(s)
}

// NewJobID returns a 12-character URL-safe token from the cryptographic
// RNG. Nine random bytes encode to exactly twelve base64url characters.
func NewJobID() (string, error) {
	var buf [9]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
