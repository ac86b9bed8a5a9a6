// Package retrieval finds the chunks of a tenant most similar to a query vector.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/vector"
)

// ErrNoTenant is returned when Retrieve is called without a tenant id.
var ErrNoTenant = errors.New("tenant id is required")

// ChunkLister lists the searchable chunks of a tenant: chunks of its active sources only.
type ChunkLister interface {
	ListTenantChunks(ctx context.Context, tenantID string) ([]*models.Chunk, error)
}

// Result is a retrieved chunk and its cosine similarity to the query.
type Result struct {
	Chunk *models.Chunk
	Score float64
}

// Engine runs tenant-scoped similarity search.
type Engine struct {
	chunks ChunkLister
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a retrieval engine over chunks.
func NewEngine(chunks ChunkLister, opts ...Option) *Engine {
	e := &Engine{chunks: chunks, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most k chunks of tenantID ordered by similarity descending, then ordinal,
// then chunk id. A tenant without active chunks gets an empty, non-nil slice.
func (e *Engine) Retrieve(ctx context.Context, tenantID string, query []float32, k int) ([]Result, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	chunks, err := e.chunks.ListTenantChunks(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	candidates := make([]vector.Candidate, 0, len(chunks))
	owned := make([]*models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		// the storage filter is not trusted alone
		if c.TenantID != tenantID {
			e.logger.Error("chunk of another tenant returned by storage",
				zap.String("tenant", tenantID), zap.String("chunk", c.ID))
			continue
		}
		candidates = append(candidates, vector.Candidate{ID: c.ID, Ordinal: c.Ordinal, Vector: c.Embedding})
		owned = append(owned, c)
	}

	hits := vector.TopK(query, candidates, k)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{Chunk: owned[h.Index], Score: h.Score})
	}
	e.logger.Debug("retrieved", zap.String("tenant", tenantID), zap.Int("candidates", len(candidates)), zap.Int("results", len(results)))
	return results, nil
}
