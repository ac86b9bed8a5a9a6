// Package keyword provides tenant-scoped full-text search over indexed chunks.
package keyword

import (
	"context"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means exact term matching.
type SearchOptions struct {
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex mirrors chunk text for keyword lookup. It is never the source of truth:
// storage decides which chunks exist, the index only helps find them.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, sourceName string, chunks []*models.Chunk) error
	DeleteSource(ctx context.Context, sourceID string) error
	Search(ctx context.Context, tenantID, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// DocCount returns the total number of chunks in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ChunkID  string   `json:"chunk_id"`
	SourceID string   `json:"source_id"`
	Ordinal  int      `json:"ordinal"`
	Score    float64  `json:"score"`
	Snippets []string `json:"snippets,omitempty"`
}
