package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/keyword"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
)

// Reason classifies an indexing failure.
type Reason string

const (
	// ReasonStorageUnavailable means the write transaction could not begin or commit.
	ReasonStorageUnavailable Reason = "storage_unavailable"
	// ReasonPartialWrite means a write inside the transaction failed; nothing was kept.
	ReasonPartialWrite Reason = "partial_write"
)

// Error is returned when the chunk set could not be written.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("indexing %s: %v", e.Reason, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Code returns the stage-qualified reason, e.g. "indexing:partial_write".
func (e *Error) Code() string { return "indexing:" + string(e.Reason) }

// Indexer writes a source's chunks to storage and mirrors them into the keyword index.
type Indexer struct {
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex // optional
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithKeywordIndex mirrors indexed chunks into kw.
func WithKeywordIndex(kw keyword.KeywordIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywordIndex = kw }
}

// NewIndexer creates an indexer writing to store.
func NewIndexer(store storage.Storage, opts ...IndexerOption) *Indexer {
	idx := &Indexer{storage: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// BuildChunks pairs text windows with their embeddings and stamps ids, tenant and metadata.
// vectors must be in the same order as pieces.
func BuildChunks(src *models.KnowledgeSource, pieces []TextChunk, vectors [][]float32) ([]*models.Chunk, error) {
	if len(pieces) != len(vectors) {
		return nil, fmt.Errorf("have %d chunks but %d embeddings", len(pieces), len(vectors))
	}
	out := make([]*models.Chunk, len(pieces))
	for i, p := range pieces {
		meta := map[string]string{
			models.MetaOrigin:     src.Origin,
			models.MetaSourceName: src.Name,
		}
		if src.Kind == models.SourceKindDocument {
			meta[models.MetaDocumentName] = src.Origin
		}
		out[i] = &models.Chunk{
			ID:        ChunkID(src.ID, p.Ordinal),
			SourceID:  src.ID,
			TenantID:  src.TenantID,
			Ordinal:   p.Ordinal,
			Content:   p.Content,
			Embedding: vectors[i],
			Metadata:  meta,
		}
	}
	return out, nil
}

// Index replaces the chunks of sourceID with chunks in one transaction. Readers never observe
// a mix of old and new chunks. When the source was deleted or left the pending state in the
// meantime, the storage error is returned unchanged (storage.ErrNotFound or
// storage.ErrStatusConflict) so the caller can tell it apart from a write failure.
func (idx *Indexer) Index(ctx context.Context, sourceID, tenantID string, chunks []*models.Chunk) error {
	for _, ch := range chunks {
		if ch.TenantID != tenantID || ch.SourceID != sourceID {
			return &Error{Reason: ReasonPartialWrite, Err: fmt.Errorf("chunk %s belongs to %s/%s, not %s/%s",
				ch.ID, ch.TenantID, ch.SourceID, tenantID, sourceID)}
		}
	}
	err := idx.storage.ReplaceChunks(ctx, sourceID, chunks)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrStatusConflict):
		return err
	case errors.Is(err, storage.ErrWriteFailed):
		return &Error{Reason: ReasonPartialWrite, Err: err}
	default:
		return &Error{Reason: ReasonStorageUnavailable, Err: err}
	}
	idx.logger.Debug("indexer chunks written", zap.String("source_id", sourceID), zap.Int("chunks", len(chunks)))
	return nil
}

// Mirror copies a source's committed chunks into the keyword index. It is best effort:
// storage remains authoritative and failures are only logged.
func (idx *Indexer) Mirror(ctx context.Context, sourceName string, chunks []*models.Chunk) {
	if idx.keywordIndex == nil || len(chunks) == 0 {
		return
	}
	sourceID := chunks[0].SourceID
	if err := idx.keywordIndex.DeleteSource(ctx, sourceID); err != nil {
		idx.logger.Warn("keyword index cleanup failed", zap.String("source_id", sourceID), zap.Error(err))
	}
	if err := idx.keywordIndex.IndexChunks(ctx, sourceName, chunks); err != nil {
		idx.logger.Warn("keyword index update failed", zap.String("source_id", sourceID), zap.Error(err))
	}
}

// Forget removes a source from the keyword index. Best effort, like Mirror.
func (idx *Indexer) Forget(ctx context.Context, sourceID string) {
	if idx.keywordIndex == nil {
		return
	}
	if err := idx.keywordIndex.DeleteSource(ctx, sourceID); err != nil {
		idx.logger.Warn("keyword index delete failed", zap.String("source_id", sourceID), zap.Error(err))
	}
}
