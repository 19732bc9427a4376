// SPDX-License-Identifier: MIT

// Package janitor runs the periodic sweeps that keep disk and session
// state bounded: retention-expired files, orphaned job files and work
// directories, and idle progress sessions.
package janitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/progress"
	"github.com/audiolevel/audiolevel/internal/queue"
)

var sweepRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiolevel",
	Name:      "janitor_removals_total",
	Help:      "Files and sessions removed per sweep kind",
}, []string{"sweep"})

// jobFilePattern matches the on-disk naming scheme for job inputs and
// outputs.
var jobFilePattern = regexp.MustCompile(`^([A-Za-z0-9_-]{12})-(input|output)\.[A-Za-z0-9]+$`)

// ScratchDirName holds per-job candidate artifacts under the output dir.
const ScratchDirName = ".intelligent-work"

// Janitor owns the sweep timers. Zero intervals pick the defaults.
type Janitor struct {
	UploadDir string
	OutputDir string
	Retention time.Duration
	Queue     *queue.Queue
	Hub       *progress.Hub

	AgeInterval       time.Duration // default 5m
	OrphanInterval    time.Duration // default 10m
	HeartbeatInterval time.Duration // default 30s
	OrphanAge         time.Duration // default 5m
	SessionIdle       time.Duration // default 60s

	logger zerolog.Logger
}

// New creates a janitor over the given directories.
func New(uploadDir, outputDir string, retention time.Duration, q *queue.Queue, hub *progress.Hub) *Janitor {
	return &Janitor{
		UploadDir:         uploadDir,
		OutputDir:         outputDir,
		Retention:         retention,
		Queue:             q,
		Hub:               hub,
		AgeInterval:       5 * time.Minute,
		OrphanInterval:    10 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		OrphanAge:         5 * time.Minute,
		SessionIdle:       60 * time.Second,
		logger:            log.WithComponent("janitor"),
	}
}

// Run blocks, driving all three sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	age := time.NewTicker(j.AgeInterval)
	orphan := time.NewTicker(j.OrphanInterval)
	heartbeat := time.NewTicker(j.HeartbeatInterval)
	defer age.Stop()
	defer orphan.Stop()
	defer heartbeat.Stop()

	j.logger.Info().
		Dur("retention", j.Retention).
		Msg("janitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-age.C:
			j.SweepAged(ctx)
		case <-orphan.C:
			j.SweepOrphans(ctx)
		case <-heartbeat.C:
			if n := j.Hub.SweepIdle(j.SessionIdle); n > 0 {
				sweepRemovals.WithLabelValues("session").Add(float64(n))
			}
		}
	}
}

// SweepAged removes regular files older than the retention age from both
// directories and evicts the matching queue records. Directories and
// placeholder dotfiles survive.
func (j *Janitor) SweepAged(ctx context.Context) int {
	removed := 0
	cutoff := time.Now().Add(-j.Retention)
	for _, dir := range []string{j.UploadDir, j.OutputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			j.logger.Warn().Err(err).Str("dir", dir).Msg("age sweep cannot list directory")
			continue
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				j.logger.Warn().Err(err).Str("path", path).Msg("age sweep remove failed")
				continue
			}
			removed++
			sweepRemovals.WithLabelValues("aged").Inc()
		}
	}

	// Retention applies to records as well as files.
	if evicted, err := j.Queue.EvictExpired(ctx); err != nil {
		j.logger.Warn().Err(err).Msg("record eviction failed")
	} else {
		for _, ev := range evicted {
			removeIfPresent(ev.InputPath)
			removeIfPresent(ev.OutputPath)
		}
	}

	if removed > 0 {
		j.logger.Info().Int("removed", removed).Msg("age sweep done")
	}
	return removed
}

// SweepOrphans deletes job-named files whose job is unknown to the queue,
// plus abandoned scratch directories. A store error keeps the file: never
// delete under uncertainty.
func (j *Janitor) SweepOrphans(ctx context.Context) int {
	removed := 0
	cutoff := time.Now().Add(-j.OrphanAge)

	for _, dir := range []string{j.UploadDir, j.OutputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			m := jobFilePattern.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if _, err := j.Queue.Get(ctx, m[1]); err == nil {
				continue
			} else if !errors.Is(err, queue.ErrNotFound) {
				j.logger.Warn().Err(err).Str("job_id", m[1]).Msg("orphan lookup failed, keeping file")
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err == nil {
				removed++
				sweepRemovals.WithLabelValues("orphan").Inc()
				j.logger.Info().Str("path", path).Msg("orphan removed")
			}
		}
	}

	removed += j.sweepScratch(cutoff)
	return removed
}

// sweepScratch removes per-job work directories left behind by crashed
// workers.
func (j *Janitor) sweepScratch(cutoff time.Time) int {
	scratch := filepath.Join(j.OutputDir, ScratchDirName)
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(scratch, e.Name())
		if err := os.RemoveAll(path); err == nil {
			removed++
			sweepRemovals.WithLabelValues("scratch").Inc()
			j.logger.Info().Str("path", path).Msg("abandoned work directory removed")
		}
	}
	return removed
}

func removeIfPresent(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger := log.WithComponent("janitor")
		logger.Warn().Err(err).Str("path", path).Msg("eviction remove failed")
	}
}
