package stage

import (
	"sort"
	"strings"

	"cardmint/internal/queue"
)

// RankCandidates drops unnamed entries, orders the rest by confidence and
// keeps at most three.
func RankCandidates(candidates []queue.Candidate) []queue.Candidate {
	ranked := make([]queue.Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		candidate.Name = strings.TrimSpace(candidate.Name)
		if candidate.Name == "" {
			continue
		}
		switch {
		case candidate.Confidence < 0:
			candidate.Confidence = 0
		case candidate.Confidence > 1:
			candidate.Confidence = 1
		}
		ranked = append(ranked, candidate)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	return ranked
}

// BestCandidate returns the highest ranked candidate.
func BestCandidate(top3 []queue.Candidate) (queue.Candidate, bool) {
	ranked := RankCandidates(top3)
	if len(ranked) == 0 {
		return queue.Candidate{}, false
	}
	return ranked[0], true
}

// IsReasonableMatch reports whether the best candidate reaches threshold.
func IsReasonableMatch(top3 []queue.Candidate, threshold float64) bool {
	best, ok := BestCandidate(top3)
	return ok && best.Confidence >= threshold
}
