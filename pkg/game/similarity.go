package game

import (
	"math"
	"sort"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
)

// CosineSimilarity returns the cosine of the angle between a and b. Vectors of
// different length, empty vectors and zero vectors yield 0.
func CosineSimilarity(a []float32, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	denominator := math.Sqrt(normA) * math.Sqrt(normB)
	if denominator == 0 {
		return 0
	}
	return dot / denominator
}

// Candidate is a word suggested to the player along with the similarity the
// client was shown for it.
type Candidate struct {
	ID         string  `json:"id"`
	Label      string  `json:"label,omitempty"`
	Similarity float64 `json:"similarity"`
}

// RankedCandidate is a candidate after reranking.
type RankedCandidate struct {
	Candidate
	Score          float64 `json:"score"`
	Reranked       bool    `json:"reranked"`
	HighlyRelevant bool    `json:"highlyRelevant"`
}

// Weights for the rerank score of each candidate list.
type RerankWeights struct {
	Target   float64
	Current  float64
	Original float64
}

var (
	NeighborWeights = RerankWeights{Target: 0.6, Current: 0.3, Original: 0.1}
	RelatedWeights  = RerankWeights{Target: 0.8, Current: 0, Original: 0.2}
)

// RerankScore combines the similarities of one candidate.
func RerankScore(w RerankWeights, simTarget float64, simCurrent float64, original float64) float64 {
	return w.Target*simTarget + w.Current*simCurrent + w.Original*original
}

// Rerank scores candidates against the target and the player's current word,
// sorts them by score and flags the best ones. Candidates without an embedding
// keep their original similarity as score and are not marked reranked.
func Rerank(candidates []Candidate, embeddings map[string][]float32, target []float32, current []float32, w RerankWeights) []*RankedCandidate {
	ranked := make([]*RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		rc := &RankedCandidate{Candidate: c, Score: c.Similarity}
		if emb, ok := embeddings[c.ID]; ok && len(emb) > 0 && len(target) > 0 {
			simCurrent := 0.0
			if w.Current != 0 && len(current) > 0 {
				simCurrent = CosineSimilarity(emb, current)
			}
			rc.Score = RerankScore(w, CosineSimilarity(emb, target), simCurrent, c.Similarity)
			rc.Reranked = true
		}
		ranked = append(ranked, rc)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	for i := 0; i < len(ranked) && i < constants.RerankHighlyRelevant; i++ {
		ranked[i].HighlyRelevant = true
	}
	return ranked
}
