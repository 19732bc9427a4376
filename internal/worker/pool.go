// SPDX-License-Identifier: MIT

// Package worker drives admitted jobs through the processing pipeline:
// measure, classify, generate candidates, execute them in parallel,
// evaluate, encode the winner.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/audiolevel/audiolevel/internal/analysis"
	"github.com/audiolevel/audiolevel/internal/janitor"
	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/mastering"
	"github.com/audiolevel/audiolevel/internal/media"
	"github.com/audiolevel/audiolevel/internal/progress"
	"github.com/audiolevel/audiolevel/internal/queue"
)

// Stage boundaries on the progress scale.
const (
	pctAnalyzed  = 25
	pctGenerated = 30
	pctExecuted  = 75
	pctEvaluated = 90
	pctDone      = 100
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolevel",
		Name:      "worker_jobs_total",
		Help:      "Jobs processed by outcome",
	}, []string{"outcome"})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "audiolevel",
		Name:      "worker_job_duration_seconds",
		Help:      "Wall time from pick-up to terminal state",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Pool runs a fixed number of workers over the queue.
type Pool struct {
	Queue     *queue.Queue
	Hub       *progress.Hub
	Probe     *analysis.Probe
	Executor  *mastering.Executor
	Evaluator *mastering.Evaluator
	Runner    *media.Runner

	FFmpegPath         string
	OutputDir          string
	Size               int
	FinalEncodeTimeout time.Duration
	LeaseInterval      time.Duration // renewal cadence, default 30s
	DrainTimeout       time.Duration // shutdown grace for in-flight jobs, default 30s

	logger zerolog.Logger
}

// NewPool wires a pool of size workers.
func NewPool(size int, q *queue.Queue, hub *progress.Hub, probe *analysis.Probe, ex *mastering.Executor, ev *mastering.Evaluator, runner *media.Runner, ffmpegPath, outputDir string, finalEncodeTimeout time.Duration) *Pool {
	return &Pool{
		Queue:              q,
		Hub:                hub,
		Probe:              probe,
		Executor:           ex,
		Evaluator:          ev,
		Runner:             runner,
		FFmpegPath:         ffmpegPath,
		OutputDir:          outputDir,
		Size:               size,
		FinalEncodeTimeout: finalEncodeTimeout,
		LeaseInterval:      30 * time.Second,
		DrainTimeout:       30 * time.Second,
		logger:             log.WithComponent("worker"),
	}
}

// Run blocks until ctx is done, keeping Size workers dequeuing.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Size; i++ {
		g.Go(func() error {
			p.workerLoop(gctx, i)
			return nil
		})
	}
	p.logger.Info().Int("size", p.Size).Msg("worker pool started")
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, n int) {
	logger := p.logger.With().Int("worker", n).Logger()
	for {
		job, err := p.Queue.Dequeue(ctx)
		if err != nil {
			return // ctx done
		}
		logger.Info().Str("job_id", job.ID).Int("attempt", job.AttemptsMade).Msg("job picked up")
		p.process(ctx, job)
	}
}

// process runs one job to a terminal state. Pipeline errors are reported
// to the queue, which decides between retry and permanent failure.
func (p *Pool) process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	logger := log.WithJob("worker", job.ID)

	// The job context outlives pool shutdown by the drain window, so an
	// in-flight job gets a chance to reach a terminal state before its
	// children are reaped.
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go func() {
		select {
		case <-jctx.Done():
		case <-ctx.Done():
			select {
			case <-jctx.Done():
			case <-time.After(p.DrainTimeout):
				cancel()
			}
		}
	}()
	go p.keepLease(jctx, cancel, job.ID)

	err := p.pipeline(jctx, job)
	jobDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		jobsProcessed.WithLabelValues("completed").Inc()
		return
	}
	if ctx.Err() != nil {
		// Shutdown: leave the job active; the lease will lapse and the
		// stalled sweep re-surfaces it.
		jobsProcessed.WithLabelValues("interrupted").Inc()
		logger.Warn().Err(err).Msg("job interrupted by shutdown")
		return
	}

	state, ferr := p.Queue.Fail(ctx, job.ID, err.Error())
	if ferr != nil {
		logger.Error().Err(ferr).Msg("failed to record job failure")
		return
	}
	if state == queue.StateFailed {
		jobsProcessed.WithLabelValues("failed").Inc()
		p.Hub.Error(job.ID, err.Error(), "PROCESSING_FAILED")
	} else {
		jobsProcessed.WithLabelValues("retried").Inc()
	}
}

// keepLease renews the job claim until ctx ends, cancelling the job if
// the lease is lost to the stalled sweep.
func (p *Pool) keepLease(ctx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(p.LeaseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := p.Queue.RenewLease(ctx, jobID)
			if err == nil && !ok {
				logger := log.WithJob("worker", jobID)
				logger.Warn().Msg("lease lost, abandoning job")
				cancel()
				return
			}
		}
	}
}

func (p *Pool) pipeline(ctx context.Context, job *queue.Job) error {
	logger := log.WithJob("worker", job.ID)

	report := func(pct float64, stage string) {
		if err := p.Queue.UpdateProgress(ctx, job.ID, pct, stage); err != nil {
			logger.Warn().Err(err).Msg("progress update failed")
		}
		p.Hub.Progress(job.ID, pct, stage)
	}

	report(0, "analyzing")
	m, err := p.Probe.Measure(ctx, job.InputPath)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	report(pctAnalyzed, "analyzing")

	cls := analysis.Classify(m)
	problems := analysis.DetectProblems(m, cls.Type)
	logger.Info().
		Str("content", string(cls.Type)).
		Float64("confidence", cls.Confidence).
		Str("worst_problem", string(problems.MaxSeverity())).
		Msg("input analyzed")

	candidates := mastering.GenerateCandidates(m, cls, problems)
	report(pctGenerated, "generating")

	scratchDir := filepath.Join(p.OutputDir, janitor.ScratchDirName,
		fmt.Sprintf("job-%d", time.Now().UnixNano()))
	results, err := p.Executor.Execute(ctx, job.InputPath, scratchDir, m, candidates)
	defer func() {
		mastering.Cleanup(results, "")
		_ = os.Remove(scratchDir)
	}()
	if err != nil {
		return fmt.Errorf("execute candidates: %w", err)
	}
	report(pctExecuted, "executing")

	sel, err := p.Evaluator.Evaluate(ctx, job.InputPath, m, cls, candidates, results)
	if err != nil {
		return fmt.Errorf("evaluate candidates: %w", err)
	}
	report(pctEvaluated, "evaluating")

	if err := p.encodeFinal(ctx, sel.WinnerResult.OutputPath, job.OutputPath); err != nil {
		return err
	}

	summary := analysis.Summary{}
	for _, s := range sel.Scores {
		if s.CandidateID == sel.Winner.ID {
			summary = s.Metrics
			break
		}
	}
	res := queue.Result{
		OutputPath:     job.OutputPath,
		OutputFormat:   filepath.Ext(job.OutputPath),
		WinnerName:     sel.Winner.Name,
		Reason:         sel.Reason,
		QualityMethod:  sel.QualityMethod,
		IntegratedLUFS: summary.IntegratedLUFS,
		TruePeak:       summary.TruePeak,
	}
	if err := p.Queue.Complete(ctx, job.ID, res); err != nil {
		return err
	}
	p.Hub.Progress(job.ID, pctDone, "done")
	p.Hub.Complete(job.ID, "/upload/job/"+job.ID+"/download", &progress.CompleteMetrics{
		WinnerName:     sel.Winner.Name,
		Reason:         sel.Reason,
		IntegratedLUFS: summary.IntegratedLUFS,
		TruePeak:       summary.TruePeak,
	})
	return nil
}

// encodeFinal converts the winner's lossless scratch artifact into the
// job's output container. The generous deadline covers long inputs on
// slow codecs.
func (p *Pool) encodeFinal(ctx context.Context, scratchPath, outputPath string) error {
	args := []string{"-y", "-hide_banner", "-nostats", "-i", scratchPath}
	args = append(args, encodeArgsFor(filepath.Ext(outputPath))...)
	args = append(args, outputPath)

	res, err := p.Runner.Run(ctx, media.Command{
		Bin:     p.FFmpegPath,
		Args:    args,
		Timeout: p.FinalEncodeTimeout,
	})
	if err != nil {
		return fmt.Errorf("final encode: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("final encode: toolchain exit %d", res.ExitCode)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("final encode: output missing: %w", err)
	}
	return nil
}
