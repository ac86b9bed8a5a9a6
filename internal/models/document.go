// Package models defines core data structures for knowledge sources, chunks, and queries.
package models

import (
	"fmt"
	"time"
)

// SourceKind is how a knowledge source's content is acquired.
type SourceKind string

const (
	SourceKindURL      SourceKind = "url"
	SourceKindDocument SourceKind = "document"
)

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	return k == SourceKindURL || k == SourceKindDocument
}

// SourceStatus is the lifecycle state of a knowledge source.
type SourceStatus string

const (
	// StatusPending is set at creation and at the start of every re-ingestion.
	StatusPending SourceStatus = "pending"
	// StatusActive means every chunk of the source is indexed.
	StatusActive SourceStatus = "active"
	// StatusFailed means a stage failed; the source owns no chunks.
	StatusFailed SourceStatus = "failed"
)

// KnowledgeSource is one registered URL or uploaded document belonging to a tenant.
type KnowledgeSource struct {
	ID            string       `json:"id" db:"id"`
	TenantID      string       `json:"tenant_id" db:"tenant_id"`
	Name          string       `json:"name" db:"name"`
	Kind          SourceKind   `json:"kind" db:"kind"`
	Origin        string       `json:"origin" db:"origin"`
	Status        SourceStatus `json:"status" db:"status"`
	FailureReason string       `json:"failure_reason,omitempty" db:"failure_reason"`
	ChunkCount    int          `json:"chunk_count" db:"chunk_count"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// Chunk is a bounded window of a source's text paired with its embedding.
type Chunk struct {
	ID        string            `json:"id" db:"id"`
	SourceID  string            `json:"source_id" db:"source_id"`
	TenantID  string            `json:"tenant_id" db:"tenant_id"`
	Ordinal   int               `json:"ordinal" db:"ordinal"`
	Content   string            `json:"content" db:"content"`
	Embedding []float32         `json:"-" db:"embedding"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Metadata keys set on every chunk.
const (
	MetaOrigin       = "origin"
	MetaDocumentName = "document_name"
	MetaSourceName   = "source_name"
)

// IngestRequest is a tenant's request to register a new source.
type IngestRequest struct {
	TenantID  string
	Name      string
	Kind      SourceKind
	SourceURL string
	Files     []Upload
}

// Upload is one uploaded file.
type Upload struct {
	Filename string
	Content  []byte
}

// Validate checks that the request carries what its kind needs.
func (r *IngestRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch r.Kind {
	case SourceKindURL:
		if r.SourceURL == "" {
			return fmt.Errorf("source_url is required for kind %q", r.Kind)
		}
	case SourceKindDocument:
		if len(r.Files) == 0 {
			return fmt.Errorf("file is required for kind %q", r.Kind)
		}
	default:
		return fmt.Errorf("invalid kind %q, must be 'url' or 'document'", r.Kind)
	}
	return nil
}

// Origin returns the URL or the first filename, depending on kind.
func (r *IngestRequest) Origin() string {
	if r.Kind == SourceKindURL {
		return r.SourceURL
	}
	if len(r.Files) > 0 {
		return r.Files[0].Filename
	}
	return ""
}

// IngestResponse is returned to the caller as soon as the source row exists.
type IngestResponse struct {
	SourceID string       `json:"source_id"`
	Status   SourceStatus `json:"status"`
}
