// SPDX-License-Identifier: MIT

package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/audiolevel/audiolevel/internal/log"
)

const (
	// Per-session ceiling on concurrent job subscriptions.
	maxSubscriptions = 100

	// Outbound buffer per session; a consumer that falls this far behind
	// is dropped rather than allowed to stall the publisher.
	sendBuffer = 32

	writeTimeout = 10 * time.Second
	readLimit    = 4 << 10
)

var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "audiolevel",
		Name:      "progress_sessions",
		Help:      "Open progress sessions",
	})
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolevel",
		Name:      "progress_frames_total",
		Help:      "Server frames published by type",
	}, []string{"type"})
)

// Session is one websocket client. All mutable state is guarded by the
// hub mutex; the send channel decouples publishing from the socket.
type Session struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	subs     map[string]struct{}
	lastSeen time.Time
	closed   bool
}

// Hub owns every session and the job-to-subscribers index.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	jobs     map[string]map[string]*Session
}

// NewHub creates an empty hub. checkOrigin nil admits every origin, which
// matches a CORS policy enforced at the HTTP layer.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:   log.WithComponent("progress"),
		sessions: make(map[string]*Session),
		jobs:     make(map[string]map[string]*Session),
	}
}

// ServeWS upgrades the request and runs the session until the client
// disconnects or the hub drops it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s := &Session{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		subs:     make(map[string]struct{}),
		lastSeen: time.Now(),
	}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	sessionsGauge.Inc()
	h.logger.Debug().Str("session", s.id).Str("remote", r.RemoteAddr).Msg("session opened")

	go h.writePump(s)
	h.readPump(s)
}

func (h *Hub) writePump(s *Session) {
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(s, "write failed")
			// Keep draining so publishers never block on a dead session.
			for range s.send {
			}
			return
		}
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}

func (h *Hub) readPump(s *Session) {
	defer h.drop(s, "client disconnected")
	s.conn.SetReadLimit(readLimit)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		h.touch(s)

		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			h.sendFrame(s, serverFrame{Type: frameError, Message: "malformed frame", Code: codeBadFrame})
			continue
		}
		switch f.Type {
		case actionSubscribe:
			h.subscribe(s, f.JobID)
		case actionUnsubscribe:
			h.unsubscribe(s, f.JobID)
		case actionPing:
			h.sendFrame(s, serverFrame{Type: framePong, Timestamp: time.Now().UnixMilli()})
		default:
			h.sendFrame(s, serverFrame{Type: frameError, Message: "unknown frame type", Code: codeBadFrame})
		}
	}
}

// subscribe registers interest in a job. The job does not have to exist
// yet: subscribing ahead of admission is the normal flow for clients that
// open the socket before uploading.
func (h *Hub) subscribe(s *Session, jobID string) {
	if jobID == "" {
		h.sendFrame(s, serverFrame{Type: frameError, Message: "subscribe requires jobId", Code: codeBadFrame})
		return
	}
	h.mu.Lock()
	if len(s.subs) >= maxSubscriptions {
		h.mu.Unlock()
		h.sendFrame(s, serverFrame{
			Type: frameError, JobID: jobID,
			Message: "subscription limit reached", Code: codeSubscriptionLimit,
		})
		return
	}
	s.subs[jobID] = struct{}{}
	if h.jobs[jobID] == nil {
		h.jobs[jobID] = make(map[string]*Session)
	}
	h.jobs[jobID][s.id] = s
	h.mu.Unlock()
	h.sendFrame(s, serverFrame{Type: frameSubscribed, JobID: jobID})
}

func (h *Hub) unsubscribe(s *Session, jobID string) {
	h.mu.Lock()
	delete(s.subs, jobID)
	h.detach(jobID, s.id)
	h.mu.Unlock()
	h.sendFrame(s, serverFrame{Type: frameUnsubscribed, JobID: jobID})
}

// detach removes a session from a job's fan-out set. Caller holds h.mu.
func (h *Hub) detach(jobID, sessionID string) {
	if set := h.jobs[jobID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(h.jobs, jobID)
		}
	}
}

func (h *Hub) touch(s *Session) {
	h.mu.Lock()
	s.lastSeen = time.Now()
	h.mu.Unlock()
}

// drop closes a session and forgets every subscription. Safe to call more
// than once.
func (h *Hub) drop(s *Session, reason string) {
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	s.closed = true
	delete(h.sessions, s.id)
	for jobID := range s.subs {
		h.detach(jobID, s.id)
	}
	close(s.send)
	h.mu.Unlock()

	_ = s.conn.Close()
	sessionsGauge.Dec()
	h.logger.Debug().Str("session", s.id).Str("reason", reason).Msg("session closed")
}

// sendFrame queues a frame to one session, dropping the session when its
// buffer is full.
func (h *Hub) sendFrame(s *Session, f serverFrame) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.deliver(s, raw, f.Type)
}

func (h *Hub) deliver(s *Session, raw []byte, frameType string) {
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	select {
	case s.send <- raw:
		h.mu.Unlock()
		framesSent.WithLabelValues(frameType).Inc()
	default:
		h.mu.Unlock()
		h.drop(s, "slow consumer")
	}
}

// publish fans one frame out to every subscriber of its job.
func (h *Hub) publish(f serverFrame) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.Lock()
	subs := make([]*Session, 0, len(h.jobs[f.JobID]))
	for _, s := range h.jobs[f.JobID] {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		h.deliver(s, raw, f.Type)
	}
}

// Progress pushes a percent/stage update for a job.
func (h *Hub) Progress(jobID string, percent float64, stage string) {
	h.publish(serverFrame{Type: frameProgress, JobID: jobID, Percent: &percent, Stage: stage})
}

// Complete pushes the terminal success frame with the download location.
func (h *Hub) Complete(jobID, downloadURL string, metrics *CompleteMetrics) {
	h.publish(serverFrame{Type: frameComplete, JobID: jobID, DownloadURL: downloadURL, Metrics: metrics})
}

// Error pushes the terminal failure frame.
func (h *Hub) Error(jobID, message, code string) {
	h.publish(serverFrame{Type: frameError, JobID: jobID, Message: message, Code: code})
}

// SweepIdle drops sessions that have been silent longer than maxIdle and
// returns how many were closed. Clients stay alive by pinging.
func (h *Hub) SweepIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	h.mu.Lock()
	var idle []*Session
	for _, s := range h.sessions {
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	h.mu.Unlock()
	for _, s := range idle {
		h.drop(s, "idle timeout")
	}
	return len(idle)
}

// SessionCount reports the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close drops every session, for shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.Unlock()
	for _, s := range all {
		h.drop(s, "server shutdown")
	}
}
