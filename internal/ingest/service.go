// Package ingest runs the ingestion pipeline of knowledge sources and owns their status
// transitions: pending while work is in flight, then active or failed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/embedding"
	"github.com/gns-pkulkarni/chatbot-saas/internal/entitlement"
	"github.com/gns-pkulkarni/chatbot-saas/internal/extract"
	"github.com/gns-pkulkarni/chatbot-saas/internal/indexer"
	"github.com/gns-pkulkarni/chatbot-saas/internal/lock"
	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/storage"
)

var (
	// ErrIngestionInProgress is returned when the source is already being ingested.
	ErrIngestionInProgress = errors.New("ingestion already in progress for this source")
	// ErrInvalidRequest wraps validation failures of an ingestion request.
	ErrInvalidRequest = errors.New("invalid ingestion request")
)

// Acquirer fetches the text behind a URL.
type Acquirer interface {
	Acquire(ctx context.Context, url string) (string, error)
}

// Service accepts ingestion requests and processes each source in its own goroutine.
type Service struct {
	store        storage.Storage
	acquirer     Acquirer
	extractor    *extract.Extractor
	chunker      *indexer.Chunker
	embedder     embedding.Embedder
	indexer      *indexer.Indexer
	locker       lock.Locker
	entitlements entitlement.Provider
	batchSize    int
	concurrency  int
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithEntitlements enforces plan limits on Submit. Without it every submission is allowed.
func WithEntitlements(p entitlement.Provider) Option {
	return func(s *Service) {
		s.entitlements = p
	}
}

// WithEmbedBatching sets the embedding batch size and the number of batches in flight.
func WithEmbedBatching(batchSize, concurrency int) Option {
	return func(s *Service) {
		s.batchSize = batchSize
		s.concurrency = concurrency
	}
}

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// NewService wires the ingestion pipeline.
func NewService(store storage.Storage, acq Acquirer, chunker *indexer.Chunker, emb embedding.Embedder, idx *indexer.Indexer, opts ...Option) *Service {
	s := &Service{
		store:       store,
		acquirer:    acq,
		extractor:   extract.NewExtractor(),
		chunker:     chunker,
		embedder:    emb,
		indexer:     idx,
		locker:      lock.NewMemoryLocker(),
		batchSize:   32,
		concurrency: 4,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Submit registers a new source in the pending state and starts ingesting it. It returns as
// soon as the source row exists.
func (s *Service) Submit(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.checkEntitlement(ctx, req.TenantID, req.Kind); err != nil {
		return nil, err
	}

	src := &models.KnowledgeSource{
		ID:       uuid.NewString(),
		TenantID: req.TenantID,
		Name:     req.Name,
		Kind:     req.Kind,
		Origin:   req.Origin(),
		Status:   models.StatusPending,
	}
	release, err := s.locker.Acquire(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock new source: %w", err)
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		release()
		return nil, err
	}
	s.logger.Info("source submitted",
		zap.String("tenant", src.TenantID), zap.String("source_id", src.ID), zap.String("kind", string(src.Kind)))

	s.start(src, req.Files, release)
	return &models.IngestResponse{SourceID: src.ID, Status: src.Status}, nil
}

// Reingest resets an existing source to pending and runs the pipeline again. URL sources are
// re-crawled; document sources need the files uploaded again. While the run is in flight,
// readers see none of the source's chunks.
func (s *Service) Reingest(ctx context.Context, tenantID, sourceID string, files []models.Upload) (*models.IngestResponse, error) {
	src, err := s.store.GetSource(ctx, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Kind == models.SourceKindDocument && len(files) == 0 {
		return nil, fmt.Errorf("%w: file is required to re-ingest a document", ErrInvalidRequest)
	}

	release, err := s.locker.Acquire(ctx, src.ID)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrIngestionInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock source: %w", err)
	}

	// A pending source that is not locked was left behind by an interrupted run.
	if src.Status != models.StatusPending {
		if err := s.store.TransitionStatus(ctx, src.ID, src.Status, models.StatusPending, ""); err != nil {
			release()
			if errors.Is(err, storage.ErrStatusConflict) {
				return nil, ErrIngestionInProgress
			}
			return nil, err
		}
		src.Status = models.StatusPending
	}
	s.indexer.Forget(ctx, src.ID)
	s.logger.Info("source re-ingestion started", zap.String("tenant", tenantID), zap.String("source_id", src.ID))

	s.start(src, files, release)
	return &models.IngestResponse{SourceID: src.ID, Status: src.Status}, nil
}

// Delete removes a source and all of its chunks. Deleting a missing source is not an error.
// An ingestion still running for the source notices on its next write and stops.
func (s *Service) Delete(ctx context.Context, tenantID, sourceID string) error {
	deleted, err := s.store.DeleteSource(ctx, tenantID, sourceID)
	if err != nil {
		return err
	}
	if deleted {
		s.indexer.Forget(ctx, sourceID)
		s.logger.Info("source deleted", zap.String("tenant", tenantID), zap.String("source_id", sourceID))
	}
	return nil
}

// Get returns one source of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, sourceID string) (*models.KnowledgeSource, error) {
	return s.store.GetSource(ctx, tenantID, sourceID)
}

// List returns the tenant's sources, newest first.
func (s *Service) List(ctx context.Context, tenantID string) ([]*models.KnowledgeSource, error) {
	return s.store.ListSources(ctx, tenantID)
}

// Wait blocks until every started ingestion has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running ingestions and waits for them, or for ctx to end. Cancelled sources
// are marked failed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) checkEntitlement(ctx context.Context, tenantID string, kind models.SourceKind) error {
	if s.entitlements == nil {
		return nil
	}
	snap, err := s.entitlements.Snapshot(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to read entitlements: %w", err)
	}
	existing, err := s.store.CountSources(ctx, tenantID, kind)
	if err != nil {
		return err
	}
	return entitlement.CheckIngest(snap, kind, existing)
}

func (s *Service) start(src *models.KnowledgeSource, files []models.Upload, release func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.run(s.ctx, src, files)
	}()
}

// run drives one source to active or failed.
func (s *Service) run(ctx context.Context, src *models.KnowledgeSource, files []models.Upload) {
	started := time.Now()
	log := s.logger.With(zap.String("tenant", src.TenantID), zap.String("source_id", src.ID))

	n, err := s.process(ctx, src, files)
	switch {
	case err == nil:
		log.Info("source active", zap.Int("chunks", n), zap.Duration("took", time.Since(started)))
		return
	case errors.Is(err, storage.ErrNotFound):
		log.Info("source deleted during ingestion")
		s.indexer.Forget(context.WithoutCancel(ctx), src.ID)
		return
	case errors.Is(err, storage.ErrStatusConflict):
		log.Warn("source left pending during ingestion", zap.Error(err))
		return
	}

	reason := FailureCode(err)
	log.Error("ingestion failed", zap.String("reason", reason), zap.Error(err))
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if ferr := s.store.FailSource(cleanupCtx, src.ID, reason); ferr != nil && !errors.Is(ferr, storage.ErrNotFound) {
		log.Error("failed to mark source failed", zap.Error(ferr))
	}
	s.indexer.Forget(cleanupCtx, src.ID)
}

// process runs acquisition or extraction, chunking, embedding and indexing, then activates
// the source. It returns the number of chunks written.
func (s *Service) process(ctx context.Context, src *models.KnowledgeSource, files []models.Upload) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion panic: %v", r)
		}
	}()

	var text string
	switch src.Kind {
	case models.SourceKindURL:
		text, err = s.acquirer.Acquire(ctx, src.Origin)
	default:
		text, err = s.extractor.ExtractAll(files)
	}
	if err != nil {
		return 0, err
	}

	pieces := s.chunker.Chunk(indexer.Normalize(text))
	if len(pieces) == 0 {
		return 0, &extract.Error{Kind: extract.KindUnknown, Reason: extract.ReasonEmpty, Err: fmt.Errorf("no text after normalization")}
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}

	vectors, err := embedding.EmbedMany(ctx, s.embedder, texts, s.batchSize, s.concurrency)
	if err != nil {
		return 0, err
	}
	chunks, err := indexer.BuildChunks(src, pieces, vectors)
	if err != nil {
		return 0, &embedding.Error{Reason: embedding.ReasonTransient, Err: err}
	}
	if err := s.indexer.Index(ctx, src.ID, src.TenantID, chunks); err != nil {
		return 0, err
	}
	if err := s.store.TransitionStatus(ctx, src.ID, models.StatusPending, models.StatusActive, ""); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrStatusConflict) {
			return 0, err
		}
		return 0, &indexer.Error{Reason: indexer.ReasonStorageUnavailable, Err: err}
	}
	s.indexer.Mirror(ctx, src.Name, chunks)
	return len(chunks), nil
}

// FailureCode returns the "stage:reason" code stored on a failed source.
func FailureCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "ingestion:cancelled"
	}
	return "ingestion:internal"
}
