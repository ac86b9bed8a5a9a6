package vector

import "sort"

// Candidate is one vector considered for ranking. Ordinal and ID break score ties.
type Candidate struct {
	ID      string
	Ordinal int
	Vector  []float32
}

// Hit is a ranked candidate. Index points back into the slice passed to TopK.
type Hit struct {
	Index int
	ID    string
	Score float64
}

// TopK scores every candidate against query by cosine similarity and returns at most k hits,
// ordered by score descending, then ordinal ascending, then id ascending. The order is total,
// so equal inputs always rank identically.
func TopK(query []float32, candidates []Candidate, k int) []Hit {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	hits := make([]Hit, 0, len(candidates))
	for i, c := range candidates {
		if len(c.Vector) != len(query) {
			continue
		}
		hits = append(hits, Hit{Index: i, ID: c.ID, Score: Cosine(query, c.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		oa, ob := candidates[a.Index].Ordinal, candidates[b.Index].Ordinal
		if oa != ob {
			return oa < ob
		}
		return a.ID < b.ID
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
