package rag

import "strings"

// ConfidenceWeights are tunable defaults, not calibrated constants.
// The resulting score is an ordinal quality signal in [0,1], not a
// probability.
type ConfidenceWeights struct {
	// RankDecay is the per-position weight multiplier applied to
	// similarity scores, so higher ranked entries dominate the base.
	RankDecay float64
	// CitationBonus is added once when the answer cites at least one
	// valid source.
	CitationBonus float64
	// UncertaintyPenalty is subtracted once when the answer hedges.
	UncertaintyPenalty float64
}

func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{RankDecay: 0.8, CitationBonus: 0.10, UncertaintyPenalty: 0.15}
}

var uncertaintyPhrases = []string{
	"i don't know",
	"i do not know",
	"insufficient information",
	"not enough information",
	"cannot determine",
	"can't determine",
	"unable to answer",
	"do not contain enough information",
	"no relevant information",
}

// RankWeightedBase averages similarity scores with geometrically
// decaying weights, so the top entry contributes most.
func RankWeightedBase(scores []float64, decay float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	if decay <= 0 || decay > 1 {
		decay = 0.8
	}
	weight := 1.0
	var sum, total float64
	for _, s := range scores {
		sum += s * weight
		total += weight
		weight *= decay
	}
	return sum / total
}

func ContainsUncertainty(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ScoreConfidence combines the rank-weighted retrieval base with the
// citation bonus and uncertainty penalty, clamped to [0,1].
func ScoreConfidence(entryScores []float64, citationCount int, answer string, w ConfidenceWeights) float64 {
	score := RankWeightedBase(entryScores, w.RankDecay)
	if citationCount > 0 {
		score += w.CitationBonus
	}
	if ContainsUncertainty(answer) {
		score -= w.UncertaintyPenalty
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
