package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/embedding"
	"github.com/gns-pkulkarni/chatbot-saas/internal/keyword"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/retrieval"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
)

const snippetLen = 240

// Engine runs tenant search. Storage decides visibility: keyword hits whose source is not an
// active source of the tenant are dropped, whatever the keyword index says.
type Engine struct {
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex
	embedder     embedding.Embedder
	retriever    *retrieval.Engine
	logger       *zap.Logger
}

// NewEngine creates a search engine with the given dependencies. embedder and retriever may be
// nil, in which case semantic search is unavailable.
func NewEngine(
	store storage.Storage,
	keywordIndex keyword.KeywordIndex,
	embedder embedding.Embedder,
	retriever *retrieval.Engine,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		storage:      store,
		keywordIndex: keywordIndex,
		embedder:     embedder,
		retriever:    retriever,
		logger:       logger,
	}
}

// Search runs keyword and/or semantic search and returns fused chunk-level results.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}
	if query.SemanticEnabled && (e.embedder == nil || e.retriever == nil) {
		return nil, errors.New("semantic search is not configured")
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []retrieval.Result
		errChan         = make(chan error, 2)
		wg              sync.WaitGroup
	)

	if query.KeywordEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := &keyword.SearchOptions{FuzzyEnabled: query.FuzzyEnabled}
			results, err := e.keywordIndex.Search(ctx, query.TenantID, query.Query, query.Limit*2, opts)
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if query.SemanticEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := e.embedder.Embed(ctx, query.Query)
			if err != nil {
				errChan <- fmt.Errorf("embedding failed: %w", err)
				return
			}
			results, err := e.retriever.Retrieve(ctx, query.TenantID, vec, query.Limit*2)
			if err != nil {
				errChan <- fmt.Errorf("semantic search failed: %w", err)
				return
			}
			semanticResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	keywordWeight, semanticWeight := weights(query)
	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults), keywordWeight, semanticWeight)

	keywordByChunk := make(map[string]*keyword.KeywordResult, len(keywordResults))
	for _, r := range keywordResults {
		keywordByChunk[r.ChunkID] = r
	}
	semanticByChunk := make(map[string]*models.Chunk, len(semanticResults))
	for _, r := range semanticResults {
		semanticByChunk[r.Chunk.ID] = r.Chunk
	}

	lookup := newChunkLookup(e.storage, query.TenantID)
	response := &models.SearchResponse{Results: make([]*models.SearchResult, 0, query.Limit), Query: query.Query}
	for _, f := range fused {
		if f.Score < query.MinScore {
			continue
		}
		chunk := semanticByChunk[f.ChunkID]
		var snippets []string
		if kr, ok := keywordByChunk[f.ChunkID]; ok {
			snippets = kr.Snippets
			c, err := lookup.chunk(ctx, kr.SourceID, kr.ChunkID)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			chunk = c
		}
		if chunk == nil {
			continue
		}
		src, err := lookup.source(ctx, chunk.SourceID)
		if err != nil {
			return nil, err
		}
		if src == nil {
			continue
		}
		response.Total++
		if len(response.Results) >= query.Limit {
			continue
		}
		response.Results = append(response.Results, &models.SearchResult{
			ChunkID:       chunk.ID,
			SourceID:      chunk.SourceID,
			SourceName:    src.Name,
			Ordinal:       chunk.Ordinal,
			Snippet:       Highlight(snippets, chunk.Content, snippetLen),
			Score:         f.Score,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
			Rank:          len(response.Results) + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search",
		zap.String("tenant", query.TenantID),
		zap.Int("keyword_hits", len(keywordResults)),
		zap.Int("semantic_hits", len(semanticResults)),
		zap.Int("total", response.Total))
	return response, nil
}

func weights(q *models.SearchQuery) (float64, float64) {
	switch {
	case q.KeywordEnabled && q.SemanticEnabled:
		return 0.5, 0.5
	case q.SemanticEnabled:
		return 0, 1
	default:
		return 1, 0
	}
}

// chunkLookup resolves keyword hits against storage, loading each source at most once.
type chunkLookup struct {
	store   storage.Storage
	tenant  string
	sources map[string]*models.KnowledgeSource
	chunks  map[string]map[string]*models.Chunk
}

func newChunkLookup(store storage.Storage, tenant string) *chunkLookup {
	return &chunkLookup{
		store:   store,
		tenant:  tenant,
		sources: make(map[string]*models.KnowledgeSource),
		chunks:  make(map[string]map[string]*models.Chunk),
	}
}

// source returns the tenant's active source, or nil when it is missing, foreign or not active.
func (l *chunkLookup) source(ctx context.Context, id string) (*models.KnowledgeSource, error) {
	if src, ok := l.sources[id]; ok {
		return src, nil
	}
	src, err := l.store.GetSource(ctx, l.tenant, id)
	if errors.Is(err, storage.ErrNotFound) {
		src, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if src != nil && src.Status != models.StatusActive {
		src = nil
	}
	l.sources[id] = src
	return src, nil
}

func (l *chunkLookup) chunk(ctx context.Context, sourceID, chunkID string) (*models.Chunk, error) {
	src, err := l.source(ctx, sourceID)
	if err != nil || src == nil {
		return nil, err
	}
	byID, ok := l.chunks[sourceID]
	if !ok {
		chunks, err := l.store.GetChunksBySource(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		byID = make(map[string]*models.Chunk, len(chunks))
		for _, c := range chunks {
			byID[c.ID] = c
		}
		l.chunks[sourceID] = byID
	}
	return byID[chunkID], nil
}
