package models

import "fmt"

// SearchQuery is a tenant search over indexed chunks.
type SearchQuery struct {
	TenantID        string  `json:"-"`
	Query           string  `json:"query"`
	Limit           int     `json:"limit,omitempty"`
	KeywordEnabled  bool    `json:"keyword_enabled,omitempty"`
	SemanticEnabled bool    `json:"semantic_enabled,omitempty"`
	FuzzyEnabled    bool    `json:"fuzzy_enabled,omitempty"` // typo tolerance for keyword matching
	MinScore        float64 `json:"min_score,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Keyword search is used when neither search type is enabled.
func (q *SearchQuery) Validate() error {
	if q.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if !q.KeywordEnabled && !q.SemanticEnabled {
		q.KeywordEnabled = true
	}
	return nil
}

// SearchResult is one matching chunk.
type SearchResult struct {
	ChunkID       string  `json:"chunk_id"`
	SourceID      string  `json:"source_id"`
	SourceName    string  `json:"source_name"`
	Ordinal       int     `json:"ordinal"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
	Rank          int     `json:"rank"`
}

// SearchResponse is the result of a SearchQuery.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	Query     string          `json:"query"`
}
