// Package search provides tenant search over indexed chunks: keyword hits from the full-text
// mirror, optionally fused with semantic similarity.
package search

import (
	"sort"

	"github.com/gns-pkulkarni/chatbot-saas/internal/keyword"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
)

// FusedResult holds a chunk ID and fused keyword/semantic scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	if len(results) == 0 {
		return make(map[string]float64)
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	normalized := make(map[string]float64)
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ChunkID] = r.Score / maxScore
		} else {
			normalized[r.ChunkID] = 0
		}
	}
	return normalized
}

// NormalizeSemanticScores maps chunk ID to cosine similarity, clamped to [0,1].
func NormalizeSemanticScores(results []retrieval.Result) map[string]float64 {
	normalized := make(map[string]float64)
	for _, r := range results {
		score := r.Score
		if score < 0 {
			score = 0
		}
		normalized[r.Chunk.ID] = score
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights and returns results sorted by
// score descending, then chunk ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult)
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{
			ChunkID:      id,
			KeywordScore: score,
		}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{
				ChunkID:       id,
				SemanticScore: score,
			}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = (keywordWeight * result.KeywordScore) + (semanticWeight * result.SemanticScore)
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}
