// Package storage defines persistence for knowledge sources, chunks and query records.
package storage

import (
	"context"
	"errors"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

var (
	// ErrNotFound is returned when a source does not exist or belongs to another tenant.
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a compare-and-set status transition finds another status.
	ErrStatusConflict = errors.New("status conflict")
	// ErrUnavailable wraps failures to begin or commit a transaction.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrWriteFailed wraps a failed write inside an otherwise healthy transaction.
	ErrWriteFailed = errors.New("write failed")
)

// Stats is a snapshot of row counts.
type Stats struct {
	Sources        int64 `json:"sources"`
	ActiveSources  int64 `json:"active_sources"`
	PendingSources int64 `json:"pending_sources"`
	FailedSources  int64 `json:"failed_sources"`
	Chunks         int64 `json:"chunks"`
	Queries        int64 `json:"queries"`
}

// Storage defines source, chunk and usage persistence. Every chunk read is scoped to a tenant
// and to sources in the active state.
type Storage interface {
	// Source operations
	CreateSource(ctx context.Context, src *models.KnowledgeSource) error
	GetSource(ctx context.Context, tenantID, id string) (*models.KnowledgeSource, error)
	ListSources(ctx context.Context, tenantID string) ([]*models.KnowledgeSource, error)
	// CountSources counts a tenant's sources of kind that are not failed.
	CountSources(ctx context.Context, tenantID string, kind models.SourceKind) (int, error)
	// TransitionStatus moves a source from one status to another atomically. Moving to active
	// records the current chunk count.
	TransitionStatus(ctx context.Context, id string, from, to models.SourceStatus, reason string) error
	// FailSource deletes the source's chunks and marks it failed in one transaction. Only a
	// pending source can fail.
	FailSource(ctx context.Context, id, reason string) error
	// DeleteSource removes a source and its chunks. Reports whether a row was removed.
	DeleteSource(ctx context.Context, tenantID, id string) (bool, error)

	// Chunk operations
	// ReplaceChunks deletes the source's chunks and inserts chunks in one transaction. The
	// source must exist and be pending.
	ReplaceChunks(ctx context.Context, sourceID string, chunks []*models.Chunk) error
	GetChunksBySource(ctx context.Context, sourceID string) ([]*models.Chunk, error)
	ListTenantChunks(ctx context.Context, tenantID string) ([]*models.Chunk, error)

	// Usage operations
	AppendQueryRecord(ctx context.Context, rec *models.QueryRecord) error
	ListQueryRecords(ctx context.Context, tenantID string, limit int) ([]*models.QueryRecord, error)

	// Stats
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
