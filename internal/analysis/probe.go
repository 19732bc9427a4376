// SPDX-License-Identifier: MIT

package analysis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/media"
)

// Probe orchestrates toolchain invocations to measure an audio file.
type Probe struct {
	Runner      *media.Runner
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// NewProbe creates a Probe using the given runner and binary paths.
func NewProbe(runner *media.Runner, ffmpegPath, ffprobePath string, timeout time.Duration) *Probe {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Probe{
		Runner:      runner,
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Timeout:     timeout,
	}
}

// Measure produces the full measurement snapshot for a file. Only a failed
// launch of the main loudness pass (or cancellation) is an error; missing
// fields degrade to their documented defaults.
func (p *Probe) Measure(ctx context.Context, path string) (Metrics, error) {
	logger := log.WithComponent("probe")
	m := DefaultMetrics()

	p.probeStreamParams(ctx, path, &m)

	// Main pass: dynamics + loudness + silence in a single decode.
	stderrTail := media.NewLineRing(16)
	res, err := p.Runner.Run(ctx, media.Command{
		Bin: p.FFmpegPath,
		Args: []string{
			"-hide_banner", "-nostats",
			"-i", path,
			"-af", "astats=metadata=0:measure_perchannel=all," +
				"silencedetect=n=-50dB:d=0.5," +
				"ebur128=peak=sample+true:dualmono=true",
			"-f", "null", "-",
		},
		Timeout:  p.Timeout,
		OnStderr: stderrTail.Append,
	})
	if err != nil {
		return m, fmt.Errorf("measure %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return m, fmt.Errorf("measure %s: toolchain exit %d: %s",
			path, res.ExitCode, stderrTail.Tail(3))
	}
	p.parseMainPass(res.Stderr, &m)

	// Spectral pass: per-frame centroid/flatness printed as metadata.
	p.probeSpectral(ctx, path, &m)

	// Band energy: one quick mean-volume pass per band.
	p.probeBandEnergy(ctx, path, &m)

	logger.Debug().
		Str("path", path).
		Float64("lufs", m.IntegratedLUFS).
		Float64("lra", m.LoudnessRange).
		Float64("true_peak", m.TruePeak).
		Float64("silence_ratio", m.SilenceRatio).
		Msg("analysis complete")
	return m, nil
}

// MeasureSummary is the cheap re-measurement used to score candidates.
func (p *Probe) MeasureSummary(ctx context.Context, path string) (Summary, error) {
	s := Summary{
		IntegratedLUFS: DefaultIntegratedLUFS,
		LoudnessRange:  DefaultLoudnessRange,
		TruePeak:       DefaultTruePeak,
		NoiseFloor:     DefaultNoiseFloor,
	}
	stderrTail := media.NewLineRing(16)
	res, err := p.Runner.Run(ctx, media.Command{
		Bin: p.FFmpegPath,
		Args: []string{
			"-hide_banner", "-nostats",
			"-i", path,
			"-af", "astats=metadata=0,ebur128=peak=true:dualmono=true",
			"-f", "null", "-",
		},
		Timeout:  p.Timeout,
		OnStderr: stderrTail.Append,
	})
	if err != nil {
		return s, fmt.Errorf("measure summary %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return s, fmt.Errorf("measure summary %s: toolchain exit %d: %s",
			path, res.ExitCode, stderrTail.Tail(3))
	}
	s.IntegratedLUFS = extractFloat(reIntegrated, res.Stderr, s.IntegratedLUFS)
	s.LoudnessRange = extractFloat(reLRA, res.Stderr, s.LoudnessRange)
	s.TruePeak = extractFloat(reTruePeak, res.Stderr, s.TruePeak)
	s.NoiseFloor = extractFloat(reNoiseFloor, res.Stderr, s.NoiseFloor)
	return s, nil
}

func (p *Probe) probeStreamParams(ctx context.Context, path string, m *Metrics) {
	res, err := p.Runner.Run(ctx, media.Command{
		Bin: p.FFprobePath,
		Args: []string{
			"-v", "error",
			"-select_streams", "a:0",
			"-show_entries", "stream=channels,sample_rate,bits_per_sample,bits_per_raw_sample:format=duration",
			"-of", "default=noprint_wrappers=1",
			path,
		},
		Timeout: p.Timeout,
	})
	if err != nil || res.ExitCode != 0 {
		logger := log.WithComponent("probe")
		logger.Warn().Str("path", path).Msg("ffprobe failed, using stream parameter defaults")
		return
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || val == "" || val == "N/A" {
			continue
		}
		switch key {
		case "channels":
			if v, err := strconv.Atoi(val); err == nil && v > 0 {
				m.Channels = v
			}
		case "sample_rate":
			if v, err := strconv.Atoi(val); err == nil && v > 0 {
				m.SampleRate = v
			}
		case "bits_per_sample", "bits_per_raw_sample":
			if v, err := strconv.Atoi(val); err == nil && v > 0 {
				m.BitDepth = v
			}
		case "duration":
			if v, err := strconv.ParseFloat(val, 64); err == nil && v > 0 {
				m.Duration = v
			}
		}
	}
}

func (p *Probe) parseMainPass(stderr string, m *Metrics) {
	m.IntegratedLUFS = extractFloat(reIntegrated, stderr, m.IntegratedLUFS)
	m.LoudnessRange = extractFloat(reLRA, stderr, m.LoudnessRange)
	m.TruePeak = extractFloat(reTruePeak, stderr, m.TruePeak)

	m.RMSLevel = extractFloat(reRMSLevel, stderr, m.RMSLevel)
	m.PeakLevel = extractFloat(rePeakLevel, stderr, m.PeakLevel)
	m.CrestFactor = extractFloat(reCrest, stderr, m.CrestFactor)
	m.FlatFactor = extractFloat(reFlatFactor, stderr, 0)
	m.PeakCount = extractInt(rePeakCount, stderr, 0)
	m.NoiseFloor = extractFloat(reNoiseFloor, stderr, m.NoiseFloor)
	m.DCOffset = math.Abs(extractFloat(reDCOffset, stderr, 0))

	if rms := perChannelRMS(stderr); len(rms) >= 2 {
		m.StereoBalance = rms[0] - rms[1]
	}

	if m.Duration > 0 {
		spans := parseSilence(stderr, m.Duration)
		var silent float64
		for _, s := range spans {
			silent += s.end - s.start
			if s.start <= 0.05 && s.end-s.start > m.LeadingSilence {
				m.LeadingSilence = s.end - s.start
			}
			if s.end >= m.Duration-0.05 && s.end-s.start > m.TrailingSilence {
				m.TrailingSilence = s.end - s.start
			}
		}
		m.SilenceRatio = clamp01(silent / m.Duration)
	}
}

func (p *Probe) probeSpectral(ctx context.Context, path string, m *Metrics) {
	res, err := p.Runner.Run(ctx, media.Command{
		Bin: p.FFmpegPath,
		Args: []string{
			"-hide_banner", "-nostats",
			"-i", path,
			"-af", "aspectralstats=win_size=2048:measure=centroid+flatness," +
				"ametadata=mode=print:file=-",
			"-f", "null", "-",
		},
		Timeout: p.Timeout,
	})
	if err != nil || res.ExitCode != 0 {
		logger := log.WithComponent("probe")
		logger.Warn().Str("path", path).Msg("spectral pass failed, using spectral defaults")
		return
	}
	m.SpectralCentroid = extractFloatMean(reCentroidMeta, res.Stdout, m.SpectralCentroid)
	m.SpectralFlatness = clamp01(extractFloatMean(reFlatnessMeta, res.Stdout, m.SpectralFlatness))
}

// probeBandEnergy estimates energy fractions in four bands from one
// mean-volume pass per band. Failures leave the uniform defaults.
func (p *Probe) probeBandEnergy(ctx context.Context, path string, m *Metrics) {
	bands := []struct {
		name   string
		filter string
	}{
		{"low", "lowpass=f=250"},
		{"mid", "highpass=f=250,lowpass=f=4000"},
		{"high", "highpass=f=4000,lowpass=f=10000"},
		{"veryhigh", "highpass=f=10000"},
	}

	powers := make([]float64, len(bands))
	var total float64
	for i, b := range bands {
		res, err := p.Runner.Run(ctx, media.Command{
			Bin: p.FFmpegPath,
			Args: []string{
				"-hide_banner", "-nostats",
				"-i", path,
				"-af", b.filter + ",volumedetect",
				"-f", "null", "-",
			},
			Timeout: p.Timeout,
		})
		if err != nil || res.ExitCode != 0 {
			logger := log.WithComponent("probe")
			logger.Warn().Str("path", path).Str("band", b.name).Msg("band energy pass failed, using band defaults")
			return
		}
		meanDB := extractFloat(reMeanVolume, res.Stderr, -91)
		powers[i] = math.Pow(10, meanDB/10)
		total += powers[i]
	}
	if total <= 0 {
		return
	}
	m.LowEnergy = powers[0] / total
	m.MidEnergy = powers[1] / total
	m.HighEnergy = powers[2] / total
	m.VeryHighEnergy = powers[3] / total
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
