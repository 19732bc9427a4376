// SPDX-License-Identifier: MIT

// Command audiolevel is the audio normalization server: accept uploads,
// pick the best-sounding processing chain per file, serve the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/audiolevel/audiolevel/internal/admission"
	"github.com/audiolevel/audiolevel/internal/analysis"
	"github.com/audiolevel/audiolevel/internal/api"
	"github.com/audiolevel/audiolevel/internal/config"
	"github.com/audiolevel/audiolevel/internal/janitor"
	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/mastering"
	"github.com/audiolevel/audiolevel/internal/media"
	"github.com/audiolevel/audiolevel/internal/progress"
	"github.com/audiolevel/audiolevel/internal/queue"
	"github.com/audiolevel/audiolevel/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "audiolevel:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "audiolevel"})
	logger := log.WithComponent("main")

	for _, dir := range []string{
		cfg.UploadDir,
		cfg.OutputDir,
		filepath.Join(cfg.OutputDir, janitor.ScratchDirName),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.RedisURL, err)
	}

	q := queue.New(rdb, queue.Options{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Retention:     cfg.Retention,
	})
	hub := progress.NewHub(nil)

	runner := media.NewRunner()
	probe := analysis.NewProbe(runner, cfg.FFmpegPath, cfg.FFprobePath, cfg.ProcessingTimeout)
	executor := &mastering.Executor{
		Runner:     runner,
		FFmpegPath: cfg.FFmpegPath,
		Timeout:    cfg.ProcessingTimeout,
	}
	evaluator := &mastering.Evaluator{
		Probe: probe,
		Quality: &mastering.QualityEstimator{
			Runner:        runner,
			ModelPath:     cfg.QualityModelPath,
			WeightsPath:   cfg.QualityModelWeights,
			Timeout:       cfg.ProcessingTimeout,
			Fingerprinter: mastering.NewFingerprinter(probe),
		},
	}
	pool := worker.NewPool(cfg.MaxConcurrentJobs, q, hub, probe, executor, evaluator,
		runner, cfg.FFmpegPath, cfg.OutputDir, cfg.FinalEncodeTimeout)

	jan := janitor.New(cfg.UploadDir, cfg.OutputDir, cfg.Retention, q, hub)

	disk := admission.NewDiskGate(cfg.UploadDir, cfg.MinFreeDiskBytes)
	controller := admission.NewController(cfg.UploadDir, cfg.OutputDir, cfg.MaxFileSize, disk, q)
	limiter := admission.NewLimiter(rdb, "al", cfg.RateLimitMax, cfg.RateLimitWindow)

	server := api.NewServer(ctx, q, controller, limiter, hub, cfg.MaxFileSize, cfg.CORSOrigins)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		jan.Run(gctx)
		return nil
	})
	g.Go(func() error {
		stalled := time.NewTicker(time.Minute)
		defer stalled.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-stalled.C:
				if _, err := q.RequeueStalled(gctx); err != nil {
					logger.Warn().Err(err).Msg("stalled sweep failed")
				}
			}
		}
	})
	g.Go(func() error {
		logger.Info().Int("port", cfg.Port).Msg("listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		hub.Close()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}
