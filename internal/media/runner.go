// SPDX-License-Identifier: MIT

// Package media runs external toolchain binaries (ffmpeg, ffprobe, quality
// models) with stream capture, line callbacks and a wall-clock deadline.
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/procgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrTimeout reports that a toolchain invocation exceeded its wall-clock
// deadline and was killed.
var ErrTimeout = errors.New("toolchain invocation timed out")

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolevel",
		Name:      "runner_start_total",
		Help:      "Total number of toolchain process starts",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiolevel",
		Name:      "runner_exit_total",
		Help:      "Total number of toolchain process exits",
	}, []string{"reason"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "audiolevel",
		Name:      "runner_duration_seconds",
		Help:      "Wall-clock duration of toolchain invocations",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})
)

// LineFunc is invoked once per output line while a process runs.
type LineFunc func(line string)

// Command describes one toolchain invocation.
type Command struct {
	Bin     string
	Args    []string
	Env     []string      // overlay appended to the inherited environment
	Timeout time.Duration // wall-clock deadline; 0 means inherit ctx only

	OnStdout LineFunc // optional, called per stdout line
	OnStderr LineFunc // optional, called per stderr line
}

// Result carries the captured streams and the raw exit code. A non-zero
// exit code is not a Runner error; interpretation belongs to the caller.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner launches toolchain processes. Safe for concurrent use.
type Runner struct {
	// KillTimeout bounds how long a reaped process group may linger after
	// SIGKILL before the run is abandoned.
	KillTimeout time.Duration

	// Grace is the SIGTERM-to-SIGKILL window on cancellation.
	Grace time.Duration
}

// NewRunner creates a Runner with standard reap timings.
func NewRunner() *Runner {
	return &Runner{
		KillTimeout: 10 * time.Second,
		Grace:       3 * time.Second,
	}
}

// Run executes the command, streaming both pipes concurrently, and blocks
// until the process exits or the deadline fires. On deadline the process
// group is reaped and ErrTimeout is returned; the partial Result is still
// populated.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	logger := log.WithComponent("runner")

	runCtx := ctx
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.Command(c.Bin, c.Args...) // #nosec G204 -- argv assembled by callers from typed configs
	procgroup.Set(cmd)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("stderr pipe: %w", err)
	}

	var outBuf, errBuf strings.Builder
	var ioWg sync.WaitGroup

	// Both streams are drained in parallel so neither can stall the other
	// when one side is large.
	drain := func(pipe *bufio.Scanner, buf *strings.Builder, fn LineFunc) {
		defer ioWg.Done()
		pipe.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for pipe.Scan() {
			line := pipe.Text()
			buf.WriteString(line)
			buf.WriteByte('\n')
			if fn != nil {
				fn(line)
			}
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("error").Inc()
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", c.Bin, err)
	}
	startTotal.WithLabelValues("ok").Inc()
	logger.Debug().Str("bin", c.Bin).Strs("args", c.Args).Msg("toolchain process started")

	ioWg.Add(2)
	go drain(bufio.NewScanner(stdout), &outBuf, c.OnStdout)
	go drain(bufio.NewScanner(stderr), &errBuf, c.OnStderr)

	waitCh := make(chan error, 1)
	go func() {
		ioWg.Wait()
		waitCh <- cmd.Wait()
	}()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitCh:
	case <-runCtx.Done():
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		if killErr := procgroup.KillGroup(cmd.Process.Pid, r.Grace, r.KillTimeout); killErr != nil {
			logger.Error().Err(killErr).Int("pid", cmd.Process.Pid).Msg("process group did not die after SIGKILL")
		}
		waitErr = <-waitCh // reap; never leak the child
	}

	res := Result{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		ExitCode: exitCode(waitErr),
		Duration: time.Since(start),
	}
	runDuration.Observe(res.Duration.Seconds())

	switch {
	case timedOut:
		exitTotal.WithLabelValues("timeout").Inc()
		logger.Warn().Str("bin", c.Bin).Dur("timeout", c.Timeout).Msg("toolchain invocation killed on deadline")
		return res, fmt.Errorf("%s after %s: %w", c.Bin, c.Timeout, ErrTimeout)
	case ctx.Err() != nil:
		exitTotal.WithLabelValues("canceled").Inc()
		return res, ctx.Err()
	default:
		exitTotal.WithLabelValues("exited").Inc()
		return res, nil
	}
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
