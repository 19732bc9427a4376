// SPDX-License-Identifier: MIT

package analysis

import "math"

// Classifier thresholds. Speech and music are scored independently by
// summing weighted signals; the decision rule compares the two sums.
const (
	decisionMargin    = 0.2
	decisionThreshold = 0.6
	mixedThreshold    = 0.3
)

// Classify maps a measurement vector to a content type plus confidence.
// The signal list is returned unmodified for explainability.
func Classify(m Metrics) Classification {
	var signals []Signal
	add := func(name string, value, weight float64, to ContentType) {
		signals = append(signals, Signal{Name: name, Value: value, PointsTo: to, Weight: weight})
	}

	// Silence ratio: spoken word pauses, produced music does not.
	switch {
	case m.SilenceRatio > 0.2:
		add("silence_ratio", m.SilenceRatio, 0.25, ContentSpeech)
	case m.SilenceRatio < 0.05:
		add("silence_ratio", m.SilenceRatio, 0.15, ContentMusic)
	}

	// Crest factor: transient-heavy speech vs. limited masters.
	switch {
	case m.CrestFactor > 15:
		add("crest_factor", m.CrestFactor, 0.20, ContentSpeech)
	case m.CrestFactor < 10:
		add("crest_factor", m.CrestFactor, 0.20, ContentMusic)
	}

	// Spectral flatness: tonal content scores toward music.
	switch {
	case m.SpectralFlatness < 0.1:
		add("spectral_flatness", m.SpectralFlatness, 0.20, ContentMusic)
	case m.SpectralFlatness > 0.25:
		add("spectral_flatness", m.SpectralFlatness, 0.10, ContentSpeech)
	}

	// Loudness range: wide dynamics point at unmastered music.
	switch {
	case m.LoudnessRange > 15:
		add("loudness_range", m.LoudnessRange, 0.25, ContentMusic)
	case m.LoudnessRange < 7:
		add("loudness_range", m.LoudnessRange, 0.15, ContentSpeech)
	}

	// Spectral centroid: the voice band sits between ~1 and ~3.5 kHz.
	switch {
	case m.SpectralCentroid >= 1000 && m.SpectralCentroid <= 3500:
		add("spectral_centroid", m.SpectralCentroid, 0.20, ContentSpeech)
	case m.SpectralCentroid > 3500 || (m.SpectralCentroid > 0 && m.SpectralCentroid < 800):
		add("spectral_centroid", m.SpectralCentroid, 0.15, ContentMusic)
	}

	var speech, music float64
	for _, s := range signals {
		switch s.PointsTo {
		case ContentSpeech:
			speech += s.Weight
		case ContentMusic:
			music += s.Weight
		}
	}

	switch {
	case speech-music > decisionMargin && speech > decisionThreshold:
		return Classification{Type: ContentSpeech, Confidence: math.Min(speech, 1), Signals: signals}
	case music-speech > decisionMargin && music > decisionThreshold:
		return Classification{Type: ContentMusic, Confidence: math.Min(music, 1), Signals: signals}
	case speech > mixedThreshold && music > mixedThreshold:
		return Classification{Type: ContentPodcastMixed, Confidence: 0.6, Signals: signals}
	default:
		return Classification{Type: ContentUnknown, Confidence: 0.5, Signals: signals}
	}
}
