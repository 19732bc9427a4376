// SPDX-License-Identifier: MIT

package media

import (
	"strings"
	"sync"
)

// LineRing retains the most recent lines of toolchain output so failure
// reports can quote the tail of stderr without holding whole streams.
// Wire Append as a Command line callback. Safe for concurrent use.
type LineRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	count int
}

// NewLineRing creates a ring holding up to capacity lines.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 16
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Append stores one line, evicting the oldest when the ring is full.
// Blank lines are dropped.
func (r *LineRing) Append(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
	r.mu.Unlock()
}

// LastN returns up to n of the most recent lines, oldest first.
func (r *LineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.lines[(r.next-r.count+i+len(r.lines))%len(r.lines)])
	}
	return out
}

// Tail joins the last n lines for an inline error message.
func (r *LineRing) Tail(n int) string {
	return strings.Join(r.LastN(n), " | ")
}
