// SPDX-License-Identifier: MIT

package analysis

// Documented defaults used when the toolchain output is missing a field.
// A degraded metric yields a degraded decision, not a crashed job.
const (
	DefaultChannels   = 2
	DefaultSampleRate = 44100
	DefaultBitDepth   = 16

	DefaultIntegratedLUFS = -24.0
	DefaultLoudnessRange  = 7.0
	DefaultTruePeak       = -1.0

	DefaultRMSLevel    = -20.0
	DefaultPeakLevel   = -1.0
	DefaultCrestFactor = 14.0
	DefaultNoiseFloor  = -60.0

	DefaultSpectralCentroid = 1800.0
	DefaultSpectralFlatness = 0.3
	DefaultBandEnergy       = 0.25
)

// DefaultMetrics returns a Metrics value with every field at its default.
func DefaultMetrics() Metrics {
	return Metrics{
		Channels:         DefaultChannels,
		SampleRate:       DefaultSampleRate,
		BitDepth:         DefaultBitDepth,
		IntegratedLUFS:   DefaultIntegratedLUFS,
		LoudnessRange:    DefaultLoudnessRange,
		TruePeak:         DefaultTruePeak,
		RMSLevel:         DefaultRMSLevel,
		PeakLevel:        DefaultPeakLevel,
		CrestFactor:      DefaultCrestFactor,
		NoiseFloor:       DefaultNoiseFloor,
		SpectralCentroid: DefaultSpectralCentroid,
		SpectralFlatness: DefaultSpectralFlatness,
		LowEnergy:        DefaultBandEnergy,
		MidEnergy:        DefaultBandEnergy,
		HighEnergy:       DefaultBandEnergy,
		VeryHighEnergy:   DefaultBandEnergy,
	}
}
