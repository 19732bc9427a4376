// SPDX-License-Identifier: MIT

// Package mastering generates candidate processing chains for an analyzed
// file, executes them in parallel through the toolchain, and selects the
// best result.
package mastering

import (
	"strconv"

	"github.com/audiolevel/audiolevel/internal/analysis"
)

// Aggressiveness orders candidates by how much they change the signal.
type Aggressiveness string

const (
	AggrConservative Aggressiveness = "conservative"
	AggrBalanced     Aggressiveness = "balanced"
	AggrAggressive   Aggressiveness = "aggressive"
)

// Leveler selects the dynamics stage of a chain. A chain carries at most
// one of the dynamic leveler or the compressor, never both.
type Leveler string

const (
	LevelerNone        Leveler = "none"
	LevelerDynamic     Leveler = "dynamic"      // dynaudnorm
	LevelerDynamicSlow Leveler = "dynamic_slow" // dynaudnorm, longer frame
	LevelerCompressor  Leveler = "compressor"   // acompressor
)

// Compression is the compressor triple applied when Leveler is
// LevelerCompressor.
type Compression struct {
	Ratio     float64
	AttackMs  float64
	ReleaseMs float64
}

// ChainConfig is the typed configuration a candidate is built from. The
// filter chain string is derived from it, never hand-assembled.
type ChainConfig struct {
	HighpassHz     int
	NoiseStrength  float64 // anlmdn strength, 0 disables
	MudCutDB       float64 // corrective EQ cut at 300 Hz, 0 disables
	DeEssIntensity float64 // 0 disables
	Leveler        Leveler
	Compression    Compression // used when Leveler == LevelerCompressor
	TargetLUFS     float64
	TargetTruePeak float64
}

// Candidate is one end-to-end processing configuration.
type Candidate struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Aggressiveness Aggressiveness `json:"aggressiveness"`
	FilterChain    string         `json:"filterChain"`
	FiltersApplied []string       `json:"filtersApplied"`
	TargetLUFS     float64        `json:"targetLufs"`
	TargetTruePeak float64        `json:"targetTruePeak"`
}

// Result is the outcome of executing one candidate.
type Result struct {
	CandidateID      string `json:"candidateId"`
	Success          bool   `json:"success"`
	OutputPath       string `json:"outputPath,omitempty"`
	Error            string `json:"error,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// Score is the evaluator verdict for one candidate.
type Score struct {
	CandidateID   string           `json:"candidateId"`
	CandidateName string           `json:"candidateName"`
	SubScores     SubScores        `json:"subScores"`
	TotalScore    float64          `json:"totalScore"`
	Metrics       analysis.Summary `json:"metrics"`
	PassedSafety  bool             `json:"passedSafety"`
	Rejection     string           `json:"rejectionReason,omitempty"`
}

// SubScores are the five quality dimensions, each in [0,100].
type SubScores struct {
	LoudnessAccuracy  float64 `json:"loudnessAccuracy"`
	DynamicRange      float64 `json:"dynamicRange"`
	PeakSafety        float64 `json:"peakSafety"`
	NoiseReduction    float64 `json:"noiseReduction"`
	PerceptualQuality float64 `json:"perceptualQuality"`
}

// Selection is the final evaluator output.
type Selection struct {
	Winner        Candidate `json:"winner"`
	WinnerResult  Result    `json:"winnerResult"`
	Scores        []Score   `json:"scores"`
	Reason        string    `json:"reason"`
	QualityMethod string    `json:"qualityMethod"` // "model" or "spectral"
}

// fmtNum renders a float the way the toolchain expects: no trailing zeros,
// so -16 stays "-16" and -1.5 stays "-1.5".
func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
