// SPDX-License-Identifier: MIT

// Package progress fans worker progress out to subscribed websocket
// clients. Sessions are cheap; a job may have zero subscribers and a
// session may watch many jobs.
package progress

// Client-to-server frame. Unknown types are answered with an error frame
// rather than dropping the session.
type clientFrame struct {
	Type  string `json:"type"`
	JobID string `json:"jobId,omitempty"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// CompleteMetrics is the result excerpt pushed with a completion frame.
type CompleteMetrics struct {
	WinnerName     string  `json:"winnerName"`
	Reason         string  `json:"reason"`
	IntegratedLUFS float64 `json:"integratedLufs"`
	TruePeak       float64 `json:"truePeak"`
}

// Server-to-client frame; one struct covers the whole union, with fields
// omitted when not meaningful for the type.
type serverFrame struct {
	Type        string           `json:"type"`
	JobID       string           `json:"jobId,omitempty"`
	Percent     *float64         `json:"percent,omitempty"`
	Stage       string           `json:"stage,omitempty"`
	DownloadURL string           `json:"downloadUrl,omitempty"`
	Metrics     *CompleteMetrics `json:"metrics,omitempty"`
	Message     string           `json:"message,omitempty"`
	Code        string           `json:"code,omitempty"`
	Timestamp   int64            `json:"timestamp,omitempty"`
}

const (
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameProgress     = "progress"
	frameComplete     = "complete"
	frameError        = "error"
	framePong         = "pong"
)

// Error codes carried on error frames.
const (
	codeSubscriptionLimit = "SUBSCRIPTION_LIMIT"
	codeBadFrame          = "BAD_FRAME"
)
