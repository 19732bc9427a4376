// SPDX-License-Identifier: MIT

// Package analysis measures uploaded audio through the external toolchain
// and derives content classification and defect detection from the
// measurements. Parsing is best-effort: a field the toolchain did not
// report resolves to its documented default, never to a failed job.
package analysis

// Metrics is an immutable measurement snapshot of one audio file.
type Metrics struct {
	// Stream parameters.
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
	BitDepth   int     `json:"bitDepth"`
	Duration   float64 `json:"duration"` // seconds

	// Loudness (EBU R128).
	IntegratedLUFS float64 `json:"integratedLufs"`
	LoudnessRange  float64 `json:"loudnessRange"` // LU
	TruePeak       float64 `json:"truePeak"`      // dBTP

	// Dynamics.
	RMSLevel    float64 `json:"rmsLevel"`  // dB
	PeakLevel   float64 `json:"peakLevel"` // dB
	CrestFactor float64 `json:"crestFactor"`
	FlatFactor  float64 `json:"flatFactor"`
	PeakCount   int     `json:"peakCount"`
	NoiseFloor  float64 `json:"noiseFloor"` // dB, estimated

	// Silence.
	SilenceRatio    float64 `json:"silenceRatio"` // [0,1]
	LeadingSilence  float64 `json:"leadingSilence"`
	TrailingSilence float64 `json:"trailingSilence"`

	// Spectral.
	SpectralCentroid float64 `json:"spectralCentroid"` // Hz
	SpectralFlatness float64 `json:"spectralFlatness"` // [0,1]
	LowEnergy        float64 `json:"lowEnergy"`        // fraction, <250 Hz
	MidEnergy        float64 `json:"midEnergy"`        // fraction, 250 Hz – 4 kHz
	HighEnergy       float64 `json:"highEnergy"`       // fraction, 4–10 kHz
	VeryHighEnergy   float64 `json:"veryHighEnergy"`   // fraction, >10 kHz

	// Channel health.
	DCOffset      float64 `json:"dcOffset"`      // [0,1]
	StereoBalance float64 `json:"stereoBalance"` // dB, L minus R
}

// Summary is the cheap re-measurement used by the evaluator when scoring
// candidate artifacts.
type Summary struct {
	IntegratedLUFS float64 `json:"integratedLufs"`
	LoudnessRange  float64 `json:"loudnessRange"`
	TruePeak       float64 `json:"truePeak"`
	NoiseFloor     float64 `json:"noiseFloor"`
}

// ContentType is the detected program material category.
type ContentType string

const (
	ContentSpeech       ContentType = "speech"
	ContentMusic        ContentType = "music"
	ContentPodcastMixed ContentType = "podcast_mixed"
	ContentUnknown      ContentType = "unknown"
)

// Signal is one classifier heuristic with its measured value, the content
// type it points toward and its weight. Returned intact for explainability.
type Signal struct {
	Name      string      `json:"name"`
	Value     float64     `json:"value"`
	PointsTo  ContentType `json:"pointsTo"`
	Weight    float64     `json:"weight"`
}

// Classification is the classifier verdict.
type Classification struct {
	Type       ContentType `json:"type"`
	Confidence float64     `json:"confidence"`
	Signals    []Signal    `json:"signals"`
}
