// SPDX-License-Identifier: MIT

package mastering

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolevel/audiolevel/internal/analysis"
	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/media"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// ErrAllCandidatesFailed reports that no candidate produced an artifact.
var ErrAllCandidatesFailed = errors.New("all processing candidates failed")

var candidateRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiolevel",
	Name:      "candidate_runs_total",
	Help:      "Candidate executions by outcome",
}, []string{"outcome"})

// Executor runs every candidate in parallel against the same input,
// producing one intermediate lossless artifact per candidate in the job's
// scratch directory.
type Executor struct {
	Runner     *media.Runner
	FFmpegPath string
	Timeout    time.Duration
}

// Execute runs all candidates concurrently. The per-candidate results are
// returned in candidate order; ErrAllCandidatesFailed is returned when none
// succeeded.
func (e *Executor) Execute(ctx context.Context, inputPath, scratchDir string, m analysis.Metrics, candidates []Candidate) ([]Result, error) {
	logger := log.WithComponent("executor")

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	results := make([]Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, cand := range candidates {
		g.Go(func() error {
			results[i] = e.runOne(gctx, inputPath, scratchDir, m, cand)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}

	anyOK := false
	for _, r := range results {
		if r.Success {
			anyOK = true
		} else {
			logger.Warn().Str("candidate", r.CandidateID).Str("error", r.Error).Msg("candidate failed")
		}
	}
	if !anyOK {
		return results, ErrAllCandidatesFailed
	}
	return results, nil
}

func (e *Executor) runOne(ctx context.Context, inputPath, scratchDir string, m analysis.Metrics, cand Candidate) Result {
	outPath := filepath.Join(scratchDir, cand.ID+".wav")
	start := time.Now()

	stderrTail := media.NewLineRing(16)
	res, err := e.Runner.Run(ctx, media.Command{
		Bin: e.FFmpegPath,
		Args: []string{
			"-y", "-hide_banner", "-nostats",
			"-i", inputPath,
			"-af", cand.FilterChain,
			// Intermediates keep the input's sample rate and bit depth.
			"-ar", fmt.Sprintf("%d", m.SampleRate),
			"-c:a", pcmCodecFor(m.BitDepth),
			outPath,
		},
		Timeout:  e.Timeout,
		OnStderr: stderrTail.Append,
	})

	elapsedMs := time.Since(start).Milliseconds()
	switch {
	case err != nil:
		candidateRuns.WithLabelValues("error").Inc()
		_ = os.Remove(outPath)
		return Result{CandidateID: cand.ID, Error: err.Error(), ProcessingTimeMs: elapsedMs}
	case res.ExitCode != 0:
		candidateRuns.WithLabelValues("exit_nonzero").Inc()
		_ = os.Remove(outPath)
		return Result{
			CandidateID:      cand.ID,
			Error:            fmt.Sprintf("toolchain exit %d: %s", res.ExitCode, stderrTail.Tail(3)),
			ProcessingTimeMs: elapsedMs,
		}
	default:
		candidateRuns.WithLabelValues("ok").Inc()
		return Result{
			CandidateID:      cand.ID,
			Success:          true,
			OutputPath:       outPath,
			ProcessingTimeMs: elapsedMs,
		}
	}
}

// Cleanup deletes every scratch artifact except keepPath (empty keeps
// nothing). Used to drop losers after selection and everything on failure.
func Cleanup(results []Result, keepPath string) {
	logger := log.WithComponent("executor")
	for _, r := range results {
		if r.OutputPath == "" || r.OutputPath == keepPath {
			continue
		}
		if err := os.Remove(r.OutputPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", r.OutputPath).Msg("failed to remove scratch artifact")
		}
	}
}

func pcmCodecFor(bitDepth int) string {
	switch {
	case bitDepth >= 32:
		return "pcm_s32le"
	case bitDepth >= 24:
		return "pcm_s24le"
	default:
		return "pcm_s16le"
	}
}
