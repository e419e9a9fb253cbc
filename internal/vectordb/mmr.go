package vectordb

import "math"

// MaxMarginalRelevance selects up to k passages from candidates, trading
// relevance against redundancy. lambda 1.0 is pure relevance, 0.0 pure
// diversity. Candidates without vectors are ranked by score alone, so the
// selection degrades gracefully when the server omits vectors.
func MaxMarginalRelevance(candidates []ScoredPassage, lambda float64, k int) []ScoredPassage {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k >= len(candidates) {
		out := make([]ScoredPassage, len(candidates))
		copy(out, candidates)
		return out
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	selected := make([]ScoredPassage, 0, k)
	remaining := make([]ScoredPassage, len(candidates))
	copy(remaining, candidates)

	// Seed with the most relevant candidate. Qdrant returns candidates in
	// descending score order.
	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestVal := math.Inf(-1)
		for i, cand := range remaining {
			redundancy := 0.0
			for _, sel := range selected {
				if sim, ok := cosineSimilarity(cand.Vector, sel.Vector); ok && sim > redundancy {
					redundancy = sim
				}
			}
			val := lambda*cand.Score - (1-lambda)*redundancy
			if val > bestVal {
				bestVal = val
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
