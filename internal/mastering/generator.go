// SPDX-License-Identifier: MIT

package mastering

import (
	"fmt"

	"github.com/audiolevel/audiolevel/internal/analysis"
)

// Noise-reduction strength ladder by aggressiveness.
const (
	noiseStrengthConservative = 3
	noiseStrengthBalanced     = 7
	noiseStrengthAggressive   = 12
)

// Target envelopes by content type.
func targetsFor(content analysis.ContentType) (lufs, truePeak float64) {
	switch content {
	case analysis.ContentSpeech, analysis.ContentPodcastMixed:
		return -16, -1.5
	default: // music, unknown
		return -14, -1
	}
}

func highpassFor(content analysis.ContentType) int {
	switch content {
	case analysis.ContentSpeech:
		return 80
	case analysis.ContentPodcastMixed:
		return 60
	case analysis.ContentMusic:
		return 30
	default:
		return 50
	}
}

func levelerFor(content analysis.ContentType) Leveler {
	switch content {
	case analysis.ContentSpeech:
		return LevelerDynamic
	case analysis.ContentPodcastMixed:
		return LevelerDynamicSlow
	default:
		return LevelerNone
	}
}

// GenerateCandidates produces the candidate set for one analyzed file:
// always Conservative and Balanced, Aggressive when any detected problem is
// moderate or worse, and one Content-Optimized variant named after the
// detected content type.
func GenerateCandidates(m analysis.Metrics, cls analysis.Classification, probs analysis.Problems) []Candidate {
	out := []Candidate{
		buildCandidate("conservative", "Conservative", AggrConservative, m, cls, probs),
		buildCandidate("balanced", "Balanced", AggrBalanced, m, cls, probs),
	}

	if probs.MaxSeverity().AtLeast(analysis.SeverityModerate) {
		out = append(out, buildCandidate("aggressive", "Aggressive", AggrAggressive, m, cls, probs))
	}

	opt := buildCandidate(
		"content-"+string(cls.Type),
		fmt.Sprintf("Content-Optimized (%s)", cls.Type),
		AggrBalanced, m, cls, probs,
	)
	opt.Description = fmt.Sprintf("Tuned for %s material detected with %.0f%% confidence.",
		cls.Type, cls.Confidence*100)
	opt.FilterChain, opt.FiltersApplied = contentOptimizedConfig(m, cls, probs).Build()
	out = append(out, opt)

	return out
}

func buildCandidate(id, name string, aggr Aggressiveness, m analysis.Metrics, cls analysis.Classification, probs analysis.Problems) Candidate {
	cfg := configFor(aggr, m, cls, probs)
	chain, applied := cfg.Build()
	return Candidate{
		ID:             id,
		Name:           name,
		Description:    descriptionFor(aggr, cls.Type),
		Aggressiveness: aggr,
		FilterChain:    chain,
		FiltersApplied: applied,
		TargetLUFS:     cfg.TargetLUFS,
		TargetTruePeak: cfg.TargetTruePeak,
	}
}

func configFor(aggr Aggressiveness, m analysis.Metrics, cls analysis.Classification, probs analysis.Problems) ChainConfig {
	lufs, tp := targetsFor(cls.Type)
	cfg := ChainConfig{
		HighpassHz:     highpassFor(cls.Type),
		TargetLUFS:     lufs,
		TargetTruePeak: tp,
	}

	if probs.NoiseFloor.Detected {
		switch aggr {
		case AggrConservative:
			cfg.NoiseStrength = noiseStrengthConservative
		case AggrBalanced:
			cfg.NoiseStrength = noiseStrengthBalanced
		case AggrAggressive:
			cfg.NoiseStrength = noiseStrengthAggressive
		}
	}

	if probs.Muddiness.Detected {
		switch aggr {
		case AggrConservative:
			cfg.MudCutDB = 1.5
		case AggrBalanced:
			cfg.MudCutDB = 3
		case AggrAggressive:
			cfg.MudCutDB = 4.5
		}
	}

	// De-essing only where sibilance can be speech sibilance.
	if cls.Type != analysis.ContentMusic && probs.Sibilance.Detected {
		switch aggr {
		case AggrConservative:
			cfg.DeEssIntensity = 0.3
		case AggrBalanced:
			cfg.DeEssIntensity = 0.5
		case AggrAggressive:
			cfg.DeEssIntensity = 0.7
		}
	}

	cfg.Leveler = levelerFor(cls.Type)

	// Music never gets the dynamic leveler; gentle compression is applied
	// from balanced upward when the loudness range is excessive.
	// Conservative leaves music dynamics alone.
	if cls.Type == analysis.ContentMusic && aggr != AggrConservative && m.LoudnessRange > 20 {
		cfg.Leveler = LevelerCompressor
		cfg.Compression = Compression{Ratio: 1.5, AttackMs: 20, ReleaseMs: 250}
		if aggr == AggrAggressive {
			cfg.Compression.Ratio = 2
		}
	}

	return cfg
}

// contentOptimizedConfig starts from the balanced config and leans further
// into what the detected content type responds to.
func contentOptimizedConfig(m analysis.Metrics, cls analysis.Classification, probs analysis.Problems) ChainConfig {
	cfg := configFor(AggrBalanced, m, cls, probs)
	switch cls.Type {
	case analysis.ContentSpeech:
		cfg.HighpassHz = 90
		if cfg.DeEssIntensity > 0 {
			cfg.DeEssIntensity = 0.6
		}
	case analysis.ContentPodcastMixed:
		cfg.HighpassHz = 70
	case analysis.ContentMusic:
		if cfg.Leveler == LevelerCompressor {
			cfg.Compression.ReleaseMs = 400
		}
	}
	return cfg
}

func descriptionFor(aggr Aggressiveness, content analysis.ContentType) string {
	switch aggr {
	case AggrConservative:
		return "Minimal intervention: gentle cleanup and loudness normalization only."
	case AggrAggressive:
		return "Strong corrective processing for recordings with significant defects."
	default:
		return fmt.Sprintf("Standard processing chain for %s content.", content)
	}
}
