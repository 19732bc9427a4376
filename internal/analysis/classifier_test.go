// SPDX-License-Identifier: MIT

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySpeech(t *testing.T) {
	m := DefaultMetrics()
	m.SilenceRatio = 0.3
	m.CrestFactor = 18
	m.SpectralFlatness = 0.3
	m.LoudnessRange = 6
	m.SpectralCentroid = 1800

	cls := Classify(m)
	assert.Equal(t, ContentSpeech, cls.Type)
	assert.GreaterOrEqual(t, cls.Confidence, 0.6)
	assert.NotEmpty(t, cls.Signals)
}

func TestClassifyMusic(t *testing.T) {
	m := DefaultMetrics()
	m.SilenceRatio = 0.01
	m.CrestFactor = 8
	m.SpectralFlatness = 0.05
	m.LoudnessRange = 18
	m.SpectralCentroid = 4000

	cls := Classify(m)
	assert.Equal(t, ContentMusic, cls.Type)
	assert.GreaterOrEqual(t, cls.Confidence, 0.6)
}

func TestClassifyPodcastMixed(t *testing.T) {
	// Speech-like pauses and transients against music-like tonality and
	// limited dynamics: neither side clears the margin.
	m := DefaultMetrics()
	m.SilenceRatio = 0.3     // speech
	m.CrestFactor = 8        // music
	m.SpectralFlatness = 0.05 // music
	m.LoudnessRange = 6      // speech
	m.SpectralCentroid = 900 // neutral

	cls := Classify(m)
	assert.Equal(t, ContentPodcastMixed, cls.Type)
}

func TestClassifyUnknownOnNeutralSignals(t *testing.T) {
	m := DefaultMetrics()
	m.SilenceRatio = 0.1
	m.CrestFactor = 12
	m.SpectralFlatness = 0.15
	m.LoudnessRange = 10
	m.SpectralCentroid = 900

	cls := Classify(m)
	assert.Equal(t, ContentUnknown, cls.Type)
	assert.Equal(t, 0.5, cls.Confidence)
}

func TestClassifySignalsCarryExplanation(t *testing.T) {
	m := DefaultMetrics()
	m.SilenceRatio = 0.3
	m.CrestFactor = 18
	m.SpectralFlatness = 0.3
	m.LoudnessRange = 6
	m.SpectralCentroid = 1800

	cls := Classify(m)
	for _, s := range cls.Signals {
		assert.NotEmpty(t, s.Name)
		assert.Greater(t, s.Weight, 0.0)
		assert.NotEmpty(t, string(s.PointsTo))
	}
}
