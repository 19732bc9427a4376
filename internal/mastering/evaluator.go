// SPDX-License-Identifier: MIT

package mastering

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/audiolevel/audiolevel/internal/analysis"
	"github.com/audiolevel/audiolevel/internal/log"
)

// Safety vetoes: no winner may exceed this true peak or fall below this
// perceptual quality unless every candidate failed safety.
const (
	safetyTruePeakCeiling = -0.5 // dBTP
	safetyMOSFloor        = 3.0
)

// Candidates within this fraction of the leader count as tied, and ties go
// to Conservative.
const tieBreakMargin = 0.05

// weights are the content-type-specific sub-score weights. Music preserves
// dynamics and perceptual character; speech prioritizes loudness accuracy
// and noise reduction.
type weights struct {
	loudness, dynamics, peak, noise, perceptual float64
}

func weightsFor(content analysis.ContentType) weights {
	switch content {
	case analysis.ContentMusic:
		return weights{loudness: 0.20, dynamics: 0.30, peak: 0.15, noise: 0.05, perceptual: 0.30}
	case analysis.ContentSpeech, analysis.ContentPodcastMixed:
		return weights{loudness: 0.30, dynamics: 0.10, peak: 0.15, noise: 0.25, perceptual: 0.20}
	default:
		return weights{loudness: 0.25, dynamics: 0.20, peak: 0.15, noise: 0.15, perceptual: 0.25}
	}
}

// Evaluator re-measures candidate artifacts and selects the winner.
type Evaluator struct {
	Probe   *analysis.Probe
	Quality *QualityEstimator
}

// Evaluate scores every successful candidate and picks a winner. Losers'
// artifacts are NOT deleted here; the caller cleans up once the winner's
// artifact has been consumed.
func (e *Evaluator) Evaluate(ctx context.Context, inputPath string, input analysis.Metrics, cls analysis.Classification, candidates []Candidate, results []Result) (Selection, error) {
	logger := log.WithComponent("evaluator")

	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	resultByID := make(map[string]Result, len(results))
	for _, r := range results {
		resultByID[r.CandidateID] = r
	}

	w := weightsFor(cls.Type)
	var scores []Score
	method := QualityMethodSpectral

	for _, r := range results {
		if !r.Success {
			continue
		}
		cand, ok := byID[r.CandidateID]
		if !ok {
			continue
		}

		summary, err := e.Probe.MeasureSummary(ctx, r.OutputPath)
		if err != nil {
			if ctx.Err() != nil {
				return Selection{}, ctx.Err()
			}
			logger.Warn().Err(err).Str("candidate", cand.ID).Msg("re-measurement failed, scoring with defaults")
		}

		mos, m := e.Quality.Estimate(ctx, inputPath, r.OutputPath)
		method = m

		sub := SubScores{
			LoudnessAccuracy:  scoreLoudness(summary.IntegratedLUFS, cand.TargetLUFS),
			DynamicRange:      scoreDynamics(input.LoudnessRange, summary.LoudnessRange),
			PeakSafety:        scorePeak(summary.TruePeak, cand.TargetTruePeak),
			NoiseReduction:    scoreNoise(input.NoiseFloor, summary.NoiseFloor),
			PerceptualQuality: (mos - 1) / 4 * 100,
		}
		total := sub.LoudnessAccuracy*w.loudness +
			sub.DynamicRange*w.dynamics +
			sub.PeakSafety*w.peak +
			sub.NoiseReduction*w.noise +
			sub.PerceptualQuality*w.perceptual

		score := Score{
			CandidateID:   cand.ID,
			CandidateName: cand.Name,
			SubScores:     sub,
			TotalScore:    total,
			Metrics:       summary,
			PassedSafety:  true,
		}
		switch {
		case summary.TruePeak > safetyTruePeakCeiling:
			score.PassedSafety = false
			score.Rejection = fmt.Sprintf("true peak %.1f dBTP above %.1f dBTP ceiling", summary.TruePeak, safetyTruePeakCeiling)
		case mos < safetyMOSFloor:
			score.PassedSafety = false
			score.Rejection = fmt.Sprintf("perceptual quality %.2f MOS below %.1f floor", mos, safetyMOSFloor)
		}
		scores = append(scores, score)
	}

	if len(scores) == 0 {
		return Selection{}, ErrAllCandidatesFailed
	}

	winnerScore, fallback := selectWinner(scores, byID)
	winner := byID[winnerScore.CandidateID]

	sel := Selection{
		Winner:        winner,
		WinnerResult:  resultByID[winnerScore.CandidateID],
		Scores:        scores,
		Reason:        winnerReason(winnerScore, fallback),
		QualityMethod: method,
	}
	logger.Info().
		Str("winner", winner.ID).
		Float64("score", winnerScore.TotalScore).
		Bool("passed_safety", winnerScore.PassedSafety).
		Str("quality_method", method).
		Msg("candidate selected")
	return sel, nil
}

// selectWinner applies safety vetoes and the conservative tie-break. The
// second return names the fallback path taken, empty for a regular win.
func selectWinner(scores []Score, byID map[string]Candidate) (Score, string) {
	var safe []Score
	for _, s := range scores {
		if s.PassedSafety {
			safe = append(safe, s)
		}
	}

	if len(safe) == 0 {
		// Everyone vetoed: prefer Conservative regardless of score, then
		// the best total.
		for _, s := range scores {
			if byID[s.CandidateID].Aggressiveness == AggrConservative {
				return s, "conservative fallback after all candidates failed safety"
			}
		}
		return best(scores), "highest score after all candidates failed safety"
	}

	leader := best(safe)
	// Less is more: a Conservative candidate within the margin wins.
	for _, s := range safe {
		if byID[s.CandidateID].Aggressiveness != AggrConservative || s.CandidateID == leader.CandidateID {
			continue
		}
		if s.TotalScore >= leader.TotalScore*(1-tieBreakMargin) {
			return s, ""
		}
	}
	return leader, ""
}

func best(scores []Score) Score {
	top := scores[0]
	for _, s := range scores[1:] {
		if s.TotalScore > top.TotalScore {
			top = s
		}
	}
	return top
}

// winnerReason synthesizes the human-readable selection sentence from the
// sub-scores that exceed their praise thresholds.
func winnerReason(s Score, fallback string) string {
	if fallback != "" {
		return fmt.Sprintf("%s selected (%s).", s.CandidateName, fallback)
	}
	var highlights []string
	if s.SubScores.LoudnessAccuracy >= 90 {
		highlights = append(highlights, "excellent loudness accuracy")
	}
	if s.SubScores.DynamicRange >= 85 {
		highlights = append(highlights, "well-preserved dynamics")
	}
	if s.SubScores.PeakSafety >= 95 {
		highlights = append(highlights, "safe true peak headroom")
	}
	if s.SubScores.NoiseReduction >= 70 {
		highlights = append(highlights, "effective noise reduction")
	}
	if s.SubScores.PerceptualQuality >= 80 {
		highlights = append(highlights, "high perceptual quality")
	}
	if len(highlights) == 0 {
		return fmt.Sprintf("%s selected with the highest overall score (%.0f).", s.CandidateName, s.TotalScore)
	}
	return fmt.Sprintf("%s selected for %s (score %.0f).", s.CandidateName, strings.Join(highlights, ", "), s.TotalScore)
}

func scoreLoudness(measured, target float64) float64 {
	return clampScore(100 - math.Abs(measured-target)*20)
}

// scoreDynamics rewards keeping the loudness range; only lost range is
// penalized (normalization legitimately narrows extreme inputs).
func scoreDynamics(inLRA, outLRA float64) float64 {
	loss := math.Max(0, inLRA-outLRA)
	return clampScore(100 - loss*8)
}

func scorePeak(measured, target float64) float64 {
	if measured <= target+0.2 {
		return 100
	}
	return clampScore(100 - (measured-target)*40)
}

// scoreNoise rewards a lowered noise floor; an unchanged floor scores a
// neutral 50.
func scoreNoise(inFloor, outFloor float64) float64 {
	improvement := inFloor - outFloor
	return clampScore(50 + improvement*5)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
