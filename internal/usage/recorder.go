// Package usage appends per-query token and cost records, which double as chat history.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

// RecordStore persists query records.
type RecordStore interface {
	AppendQueryRecord(ctx context.Context, rec *models.QueryRecord) error
	ListQueryRecords(ctx context.Context, tenantID string, limit int) ([]*models.QueryRecord, error)
}

// DefaultHistoryLimit is used when History is called with a non-positive limit.
const DefaultHistoryLimit = 50

// Recorder writes usage records. Recording never fails the caller.
type Recorder struct {
	store  RecordStore
	logger *zap.Logger
}

// NewRecorder creates a Recorder. A nil logger disables logging.
func NewRecorder(store RecordStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Record appends rec, filling in its ID and timestamp. Storage errors are logged and dropped
// since the answer has already been produced.
func (r *Recorder) Record(ctx context.Context, rec models.QueryRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.store.AppendQueryRecord(ctx, &rec); err != nil {
		r.logger.Warn("failed to record usage",
			zap.String("tenant", rec.TenantID),
			zap.Int("prompt_tokens", rec.PromptTokens),
			zap.Int("completion_tokens", rec.CompletionTokens),
			zap.Error(err))
	}
}

// History returns a tenant's most recent records, newest first.
func (r *Recorder) History(ctx context.Context, tenantID string, limit int) ([]*models.QueryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return r.store.ListQueryRecords(ctx, tenantID, limit)
}
