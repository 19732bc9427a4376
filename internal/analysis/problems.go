// SPDX-License-Identifier: MIT

package analysis

import "math"

// Severity grades a detected defect.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// AtLeast reports whether s is at least other on the severity ladder.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank(s) >= severityRank(other)
}

func severityRank(s Severity) int {
	switch s {
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	default:
		return 0
	}
}

// Problem is one defect entry: whether it was detected, how bad, and the
// metric value that triggered it.
type Problem struct {
	Detected bool     `json:"detected"`
	Severity Severity `json:"severity"`
	Metric   float64  `json:"metric"`
}

// Problems is the fixed defect taxonomy, one entry per kind.
type Problems struct {
	Clipping              Problem `json:"clipping"`
	NoiseFloor            Problem `json:"noiseFloor"`
	DCOffset              Problem `json:"dcOffset"`
	LowLoudness           Problem `json:"lowLoudness"`
	ExcessiveDynamicRange Problem `json:"excessiveDynamicRange"`
	Sibilance             Problem `json:"sibilance"`
	Muddiness             Problem `json:"muddiness"`
	StereoImbalance       Problem `json:"stereoImbalance"`
	SilencePadding        Problem `json:"silencePadding"`
}

// All returns every entry, for iteration.
func (p Problems) All() []Problem {
	return []Problem{
		p.Clipping, p.NoiseFloor, p.DCOffset, p.LowLoudness,
		p.ExcessiveDynamicRange, p.Sibilance, p.Muddiness,
		p.StereoImbalance, p.SilencePadding,
	}
}

// MaxSeverity returns the worst severity across detected problems.
func (p Problems) MaxSeverity() Severity {
	worst := SeverityNone
	for _, pr := range p.All() {
		if pr.Detected && severityRank(pr.Severity) > severityRank(worst) {
			worst = pr.Severity
		}
	}
	return worst
}

func grade(metric, mild, moderate, severe float64) Severity {
	switch {
	case metric >= severe:
		return SeveritySevere
	case metric >= moderate:
		return SeverityModerate
	case metric >= mild:
		return SeverityMild
	default:
		return SeverityNone
	}
}

// DetectProblems maps metrics plus content type to the defect taxonomy
// against fixed thresholds.
func DetectProblems(m Metrics, content ContentType) Problems {
	var p Problems

	// Clipping: flat-topped samples or an excessive peak count.
	if m.PeakCount > 100 || m.FlatFactor > 0 {
		sev := SeverityMild
		if m.PeakCount > 10000 || m.FlatFactor > 10 {
			sev = SeveritySevere
		} else if m.PeakCount > 1000 || m.FlatFactor > 1 {
			sev = SeverityModerate
		}
		p.Clipping = Problem{Detected: true, Severity: sev, Metric: float64(m.PeakCount)}
	}

	// Noise floor onset at an estimated -50 dB.
	if m.NoiseFloor > -50 {
		p.NoiseFloor = Problem{
			Detected: true,
			Severity: grade(m.NoiseFloor, -50, -42, -35),
			Metric:   m.NoiseFloor,
		}
	}

	if m.DCOffset > 0.01 {
		p.DCOffset = Problem{
			Detected: true,
			Severity: grade(m.DCOffset, 0.01, 0.05, 0.1),
			Metric:   m.DCOffset,
		}
	}

	if m.IntegratedLUFS < -24 {
		p.LowLoudness = Problem{
			Detected: true,
			Severity: grade(-m.IntegratedLUFS, 24, 30, 35),
			Metric:   m.IntegratedLUFS,
		}
	}

	// Excessive loudness range; music tolerates more dynamics.
	lraLimit := 15.0
	if content == ContentMusic {
		lraLimit = 20.0
	}
	if m.LoudnessRange > lraLimit {
		p.ExcessiveDynamicRange = Problem{
			Detected: true,
			Severity: grade(m.LoudnessRange-lraLimit, 0, 2, 8),
			Metric:   m.LoudnessRange,
		}
	}

	// Sibilance via very-high/mid band energy ratio; music is exempt
	// because cymbal and hi-hat energy lives in the same band.
	if content != ContentMusic && m.MidEnergy > 0 {
		ratio := m.VeryHighEnergy / m.MidEnergy
		if ratio >= 0.5 {
			p.Sibilance = Problem{
				Detected: true,
				Severity: grade(ratio, 0.5, 0.75, 1.0),
				Metric:   ratio,
			}
		}
	}

	// Muddiness via low/mid energy ratio.
	if m.MidEnergy > 0 {
		ratio := m.LowEnergy / m.MidEnergy
		if ratio > 1.5 {
			p.Muddiness = Problem{
				Detected: true,
				Severity: grade(ratio, 1.5, 2.0, 3.0),
				Metric:   ratio,
			}
		}
	}

	if m.Channels == 2 {
		if imbalance := math.Abs(m.StereoBalance); imbalance > 3 {
			p.StereoImbalance = Problem{
				Detected: true,
				Severity: grade(imbalance, 3, 6, 10),
				Metric:   m.StereoBalance,
			}
		}
	}

	if pad := math.Max(m.LeadingSilence, m.TrailingSilence); pad > 0.5 {
		p.SilencePadding = Problem{
			Detected: true,
			Severity: grade(pad, 0.5, 2, 5),
			Metric:   pad,
		}
	}

	return p
}
