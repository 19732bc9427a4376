// SPDX-License-Identifier: MIT

package mastering

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/audiolevel/audiolevel/internal/analysis"
	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/media"
)

// Quality estimation methods, reported alongside the score so consumers can
// interpret it.
const (
	QualityMethodModel    = "model"
	QualityMethodSpectral = "spectral"
)

var reMOS = regexp.MustCompile(`MOS[:=]\s*(-?\d+(?:\.\d+)?)`)

// QualityEstimator produces a MOS-scale perceptual quality estimate in
// [1,5] for a processed file against its source. When no external quality
// model binary is configured (or it fails), a documented
// spectral-difference heuristic takes over.
type QualityEstimator struct {
	Runner      *media.Runner
	ModelPath   string // external quality model binary, empty disables
	WeightsPath string
	Timeout     time.Duration

	Fingerprinter *Fingerprinter
}

// Estimate returns the MOS estimate and the method that produced it.
func (q *QualityEstimator) Estimate(ctx context.Context, refPath, degPath string) (float64, string) {
	if q.ModelPath != "" {
		if mos, ok := q.estimateWithModel(ctx, refPath, degPath); ok {
			return mos, QualityMethodModel
		}
		logger := log.WithComponent("quality")
		logger.Warn().Str("model", q.ModelPath).Msg("quality model failed, falling back to spectral heuristic")
	}
	return q.estimateSpectral(ctx, refPath, degPath), QualityMethodSpectral
}

func (q *QualityEstimator) estimateWithModel(ctx context.Context, refPath, degPath string) (float64, bool) {
	args := []string{}
	if q.WeightsPath != "" {
		args = append(args, "--weights", q.WeightsPath)
	}
	args = append(args, refPath, degPath)

	res, err := q.Runner.Run(ctx, media.Command{
		Bin:     q.ModelPath,
		Args:    args,
		Timeout: q.Timeout,
	})
	if err != nil || res.ExitCode != 0 {
		return 0, false
	}
	m := reMOS.FindStringSubmatch(res.Stdout)
	if m == nil {
		m = reMOS.FindStringSubmatch(res.Stderr)
	}
	if m == nil {
		return 0, false
	}
	mos, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return clampMOS(mos), true
}

// estimateSpectral maps the fingerprint distance between source and output
// onto the MOS scale: identical spectra score 5.0, maximally different 1.0.
func (q *QualityEstimator) estimateSpectral(ctx context.Context, refPath, degPath string) float64 {
	ref, err := q.Fingerprinter.Fingerprint(ctx, refPath)
	if err != nil {
		return 3.0 // neutral when the reference cannot be measured
	}
	deg, err := q.Fingerprinter.Fingerprint(ctx, degPath)
	if err != nil {
		return 3.0
	}
	return clampMOS(5 - 4*Distance(ref, deg))
}

func clampMOS(mos float64) float64 {
	return math.Min(5, math.Max(1, mos))
}

// Fingerprinter computes compact spectral fingerprints of audio files.
// Fingerprints are cached per path for the lifetime of the process (scratch
// paths are unique per job attempt, so staleness cannot occur).
type Fingerprinter struct {
	Probe *analysis.Probe

	mu      sync.Mutex
	history map[string][]float64
}

// NewFingerprinter creates a Fingerprinter measuring through the probe.
func NewFingerprinter(probe *analysis.Probe) *Fingerprinter {
	return &Fingerprinter{
		Probe:   probe,
		history: make(map[string][]float64),
	}
}

// Fingerprint returns the spectral feature vector for a file. Every
// component is normalized into [0,1].
func (f *Fingerprinter) Fingerprint(ctx context.Context, path string) ([]float64, error) {
	f.mu.Lock()
	if fp, ok := f.history[path]; ok {
		f.mu.Unlock()
		return fp, nil
	}
	f.mu.Unlock()

	m, err := f.Probe.Measure(ctx, path)
	if err != nil {
		return nil, err
	}

	fp := []float64{
		m.LowEnergy,
		m.MidEnergy,
		m.HighEnergy,
		m.VeryHighEnergy,
		clamp01(m.SpectralCentroid / 8000),
		m.SpectralFlatness,
		clamp01((m.RMSLevel + 60) / 60),
	}

	f.mu.Lock()
	f.history[path] = fp
	f.mu.Unlock()
	return fp, nil
}

// ClearHistory drops the cache. Administrative test hook; no runtime
// caller.
func (f *Fingerprinter) ClearHistory() {
	f.mu.Lock()
	f.history = make(map[string][]float64)
	f.mu.Unlock()
}

// Distance is the mean absolute component difference between two
// fingerprints. It is symmetric, bounded to [0,1] and zero on identical
// inputs. Mismatched dimensions are maximally distant.
func Distance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return clamp01(sum / float64(len(a)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
