// SPDX-License-Identifier: MIT

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const ebur128Tail = `
[Parsed_ebur128_2 @ 0x5555] Summary:

  Integrated loudness:
    I:         -19.3 LUFS
    Threshold: -29.9 LUFS

  Loudness range:
    LRA:        6.4 LU
    Threshold: -39.6 LUFS
    LRA low:   -23.1 LUFS
    LRA high:  -16.7 LUFS

  Sample peak:
    Peak:       -2.9 dBFS

  True peak:
    Peak:       -2.1 dBFS
`

const astatsOverall = `
[Parsed_astats_0 @ 0x5555] Channel: 1
[Parsed_astats_0 @ 0x5555] DC offset: 0.000013
[Parsed_astats_0 @ 0x5555] Peak level dB: -3.1
[Parsed_astats_0 @ 0x5555] RMS level dB: -21.5
[Parsed_astats_0 @ 0x5555] Crest factor: 17.2
[Parsed_astats_0 @ 0x5555] Flat factor: 0.0
[Parsed_astats_0 @ 0x5555] Peak count: 2
[Parsed_astats_0 @ 0x5555] Noise floor dB: -61.4
[Parsed_astats_0 @ 0x5555] Channel: 2
[Parsed_astats_0 @ 0x5555] RMS level dB: -26.0
[Parsed_astats_0 @ 0x5555] Overall
[Parsed_astats_0 @ 0x5555] DC offset: 0.000013
[Parsed_astats_0 @ 0x5555] RMS level dB: -23.2
[Parsed_astats_0 @ 0x5555] Noise floor dB: -61.4
`

func TestExtractEBUR128Summary(t *testing.T) {
	assert.Equal(t, -19.3, extractFloat(reIntegrated, ebur128Tail, 0))
	assert.Equal(t, 6.4, extractFloat(reLRA, ebur128Tail, 0))
	assert.Equal(t, -2.1, extractFloat(reTruePeak, ebur128Tail, 0),
		"the sample peak section must not shadow the true peak")
}

func TestExtractAstatsFields(t *testing.T) {
	assert.Equal(t, 17.2, extractFloat(reCrest, astatsOverall, 0))
	assert.Equal(t, 0.0, extractFloat(reFlatFactor, astatsOverall, -1))
	assert.Equal(t, 2, extractInt(rePeakCount, astatsOverall, -1))
	assert.Equal(t, -61.4, extractFloat(reNoiseFloor, astatsOverall, 0))
	assert.InDelta(t, 0.000013, extractFloat(reDCOffset, astatsOverall, 0), 1e-9)
}

func TestExtractFallbacks(t *testing.T) {
	assert.Equal(t, -24.0, extractFloat(reIntegrated, "no loudness here", -24))
	assert.Equal(t, -60.0, extractFloat(reNoiseFloor, "Noise floor dB: -inf", -60), "-inf maps to the fallback")
	assert.Equal(t, 0, extractInt(rePeakCount, "", 0))
}

func TestExtractFloatMean(t *testing.T) {
	text := `
lavfi.aspectralstats.1.centroid=1500.0
lavfi.aspectralstats.1.centroid=2500.0
lavfi.aspectralstats.2.centroid=2000.0
`
	assert.Equal(t, 2000.0, extractFloatMean(reCentroidMeta, text, 0))
	assert.Equal(t, 1800.0, extractFloatMean(reCentroidMeta, "nothing", 1800))
}

func TestParseSilence(t *testing.T) {
	text := `
[silencedetect @ 0x5555] silence_start: 0
[silencedetect @ 0x5555] silence_end: 1.5 | silence_duration: 1.5
[silencedetect @ 0x5555] silence_start: 10.2
`
	spans := parseSilence(text, 12.0)
	assert.Len(t, spans, 2)
	assert.Equal(t, silenceInterval{start: 0, end: 1.5}, spans[0])
	assert.Equal(t, silenceInterval{start: 10.2, end: 12.0}, spans[1], "a dangling start runs to the duration")

	assert.Empty(t, parseSilence("no silence markers", 10))
}

func TestPerChannelRMS(t *testing.T) {
	rms := perChannelRMS(astatsOverall)
	assert.Equal(t, []float64{-21.5, -26.0}, rms, "Overall RMS must not leak into the channel list")

	assert.Nil(t, perChannelRMS("Overall\nRMS level dB: -20.0"))
}
