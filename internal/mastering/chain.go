// SPDX-License-Identifier: MIT

package mastering

import (
	"fmt"
	"strings"
)

// Filter chain ordering is a contract: high-pass, then noise reduction,
// then corrective EQ, then de-esser, then exactly one leveling stage, then
// loudness normalization. The loudness stage is always last and always a
// linear-mode normalizer; that is how the evaluator recognizes a complete
// chain.

func (c ChainConfig) buildHighpass() string {
	if c.HighpassHz <= 0 {
		return ""
	}
	return fmt.Sprintf("highpass=f=%d", c.HighpassHz)
}

func (c ChainConfig) buildNoiseReduction() string {
	if c.NoiseStrength <= 0 {
		return ""
	}
	return "anlmdn=s=" + fmtNum(c.NoiseStrength)
}

// buildMudCut is the corrective EQ stage: a wide dip at 300 Hz where
// low-mid buildup accumulates.
func (c ChainConfig) buildMudCut() string {
	if c.MudCutDB <= 0 {
		return ""
	}
	return fmt.Sprintf("equalizer=f=300:t=q:w=1.0:g=-%s", fmtNum(c.MudCutDB))
}

func (c ChainConfig) buildDeEsser() string {
	if c.DeEssIntensity <= 0 {
		return ""
	}
	return fmt.Sprintf("deesser=i=%s:m=0.5:f=0.5", fmtNum(c.DeEssIntensity))
}

func (c ChainConfig) buildLeveler() string {
	switch c.Leveler {
	case LevelerDynamic:
		return "dynaudnorm=f=150:g=15:p=0.9"
	case LevelerDynamicSlow:
		// Longer frame reacts slower; suits mixed speech/music beds.
		return "dynaudnorm=f=400:g=21:p=0.9"
	case LevelerCompressor:
		comp := c.Compression
		if comp.Ratio <= 1 {
			comp.Ratio = 1.5
		}
		if comp.AttackMs <= 0 {
			comp.AttackMs = 20
		}
		if comp.ReleaseMs <= 0 {
			comp.ReleaseMs = 250
		}
		return fmt.Sprintf("acompressor=threshold=0.125:ratio=%s:attack=%s:release=%s:makeup=2",
			fmtNum(comp.Ratio), fmtNum(comp.AttackMs), fmtNum(comp.ReleaseMs))
	default:
		return ""
	}
}

func (c ChainConfig) buildLoudnorm() string {
	return fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=11:linear=true",
		fmtNum(c.TargetLUFS), fmtNum(c.TargetTruePeak))
}

// Build assembles the filter chain in contractual order and returns the
// chain string plus the names of the stages that made it in.
func (c ChainConfig) Build() (string, []string) {
	type stage struct {
		name string
		spec string
	}
	stages := []stage{
		{"highpass", c.buildHighpass()},
		{"noise_reduction", c.buildNoiseReduction()},
		{"mud_cut", c.buildMudCut()},
		{"deesser", c.buildDeEsser()},
		{"leveler", c.buildLeveler()},
		{"loudnorm", c.buildLoudnorm()},
	}

	var specs []string
	var applied []string
	for _, s := range stages {
		if s.spec == "" {
			continue
		}
		specs = append(specs, s.spec)
		applied = append(applied, s.name)
	}
	return strings.Join(specs, ","), applied
}
