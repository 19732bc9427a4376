// SPDX-License-Identifier: MIT

package mastering

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var selectionPool = map[string]Candidate{
	"conservative": {ID: "conservative", Name: "Conservative", Aggressiveness: AggrConservative},
	"balanced":     {ID: "balanced", Name: "Balanced", Aggressiveness: AggrBalanced},
	"aggressive":   {ID: "aggressive", Name: "Aggressive", Aggressiveness: AggrAggressive},
}

func scored(id string, total float64, safe bool) Score {
	s := Score{CandidateID: id, CandidateName: selectionPool[id].Name, TotalScore: total, PassedSafety: safe}
	if !safe {
		s.Rejection = "true peak above ceiling"
	}
	return s
}

func TestSelectWinnerHighestScore(t *testing.T) {
	winner, fallback := selectWinner([]Score{
		scored("conservative", 70, true),
		scored("balanced", 90, true),
	}, selectionPool)
	assert.Equal(t, "balanced", winner.CandidateID)
	assert.Empty(t, fallback)
}

func TestSelectWinnerConservativeTieBreak(t *testing.T) {
	// Within 5% of the leader: less processing wins.
	winner, fallback := selectWinner([]Score{
		scored("conservative", 86, true),
		scored("balanced", 90, true),
	}, selectionPool)
	assert.Equal(t, "conservative", winner.CandidateID)
	assert.Empty(t, fallback)

	// Outside the margin the leader keeps the win.
	winner, _ = selectWinner([]Score{
		scored("conservative", 84, true),
		scored("balanced", 90, true),
	}, selectionPool)
	assert.Equal(t, "balanced", winner.CandidateID)
}

func TestSelectWinnerSafetyVeto(t *testing.T) {
	winner, fallback := selectWinner([]Score{
		scored("aggressive", 95, false),
		scored("balanced", 80, true),
	}, selectionPool)
	assert.Equal(t, "balanced", winner.CandidateID)
	assert.Empty(t, fallback)
}

func TestSelectWinnerAllVetoedPrefersConservative(t *testing.T) {
	winner, fallback := selectWinner([]Score{
		scored("conservative", 40, false),
		scored("balanced", 90, false),
	}, selectionPool)
	assert.Equal(t, "conservative", winner.CandidateID)
	assert.Contains(t, fallback, "conservative fallback")
}

func TestSelectWinnerAllVetoedWithoutConservative(t *testing.T) {
	winner, fallback := selectWinner([]Score{
		scored("balanced", 80, false),
		scored("aggressive", 95, false),
	}, selectionPool)
	assert.Equal(t, "aggressive", winner.CandidateID)
	assert.Contains(t, fallback, "highest score")
}

func TestWinnerReason(t *testing.T) {
	s := scored("balanced", 55, true)
	assert.Equal(t, "Balanced selected with the highest overall score (55).", winnerReason(s, ""))

	s.SubScores = SubScores{LoudnessAccuracy: 95, PeakSafety: 100}
	reason := winnerReason(s, "")
	assert.Contains(t, reason, "excellent loudness accuracy")
	assert.Contains(t, reason, "safe true peak headroom")

	assert.Equal(t,
		"Conservative selected (conservative fallback after all candidates failed safety).",
		winnerReason(scored("conservative", 40, false), "conservative fallback after all candidates failed safety"))
}

func TestScoreLoudness(t *testing.T) {
	assert.Equal(t, 100.0, scoreLoudness(-16, -16))
	assert.Equal(t, 60.0, scoreLoudness(-18, -16))
	assert.Equal(t, 0.0, scoreLoudness(-26, -16))
}

func TestScoreDynamicsPenalizesOnlyLoss(t *testing.T) {
	assert.Equal(t, 100.0, scoreDynamics(10, 12))
	assert.Equal(t, 60.0, scoreDynamics(10, 5))
}

func TestScorePeak(t *testing.T) {
	assert.Equal(t, 100.0, scorePeak(-1.5, -1.5))
	assert.Equal(t, 100.0, scorePeak(-1.4, -1.5), "0.2 dB of tolerance")
	assert.Equal(t, 60.0, scorePeak(-0.5, -1.5))
}

func TestScoreNoise(t *testing.T) {
	assert.Equal(t, 50.0, scoreNoise(-60, -60), "unchanged floor is neutral")
	assert.Equal(t, 100.0, scoreNoise(-50, -60))
	assert.Equal(t, 0.0, scoreNoise(-60, -50))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-5))
	assert.Equal(t, 100.0, clampScore(105))
	assert.Equal(t, 42.0, clampScore(42))
}
