// SPDX-License-Identifier: MIT

package mastering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildOrdersStages(t *testing.T) {
	cfg := ChainConfig{
		HighpassHz:     80,
		NoiseStrength:  7,
		MudCutDB:       3,
		DeEssIntensity: 0.5,
		Leveler:        LevelerDynamic,
		TargetLUFS:     -16,
		TargetTruePeak: -1.5,
	}

	chain, applied := cfg.Build()
	assert.Equal(t,
		"highpass=f=80,"+
			"anlmdn=s=7,"+
			"equalizer=f=300:t=q:w=1.0:g=-3,"+
			"deesser=i=0.5:m=0.5:f=0.5,"+
			"dynaudnorm=f=150:g=15:p=0.9,"+
			"loudnorm=I=-16:TP=-1.5:LRA=11:linear=true",
		chain)
	assert.Equal(t, []string{"highpass", "noise_reduction", "mud_cut", "deesser", "leveler", "loudnorm"}, applied)
}

func TestBuildMinimalChainIsLoudnormOnly(t *testing.T) {
	cfg := ChainConfig{TargetLUFS: -14, TargetTruePeak: -1}

	chain, applied := cfg.Build()
	assert.Equal(t, "loudnorm=I=-14:TP=-1:LRA=11:linear=true", chain)
	assert.Equal(t, []string{"loudnorm"}, applied)
}

func TestBuildCompressorFillsDefaults(t *testing.T) {
	cfg := ChainConfig{Leveler: LevelerCompressor, TargetLUFS: -14, TargetTruePeak: -1}

	chain, _ := cfg.Build()
	assert.Contains(t, chain, "acompressor=threshold=0.125:ratio=1.5:attack=20:release=250:makeup=2")
}

func TestBuildDynamicSlowLeveler(t *testing.T) {
	cfg := ChainConfig{Leveler: LevelerDynamicSlow, TargetLUFS: -16, TargetTruePeak: -1.5}

	chain, _ := cfg.Build()
	assert.Contains(t, chain, "dynaudnorm=f=400:g=21:p=0.9")
}

func TestFmtNum(t *testing.T) {
	assert.Equal(t, "-16", fmtNum(-16))
	assert.Equal(t, "-1.5", fmtNum(-1.5))
	assert.Equal(t, "0.5", fmtNum(0.5))
	assert.Equal(t, "2", fmtNum(2))
}
